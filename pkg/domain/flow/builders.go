package flow

import (
	"fmt"

	kubeapps "k8s.io/api/apps/v1"
	kubebatch "k8s.io/api/batch/v1"
	kubecore "k8s.io/api/core/v1"
	kubenet "k8s.io/api/networking/v1"
	kubeapimeta "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/anvilworks/anvil/pkg/domain/cluster"
	"github.com/anvilworks/anvil/pkg/domain/resource"
	"github.com/anvilworks/anvil/pkg/utils/pointer"
)

const (
	labelResourceId = "anvil/resource-id"
	labelKind       = "anvil/kind"
	labelOwner      = "anvil/owner"
)

func objectName(r resource.Resource) string {
	return fmt.Sprintf("%s-%s", r.Kind, r.Id)
}

func labelsFor(r resource.Resource) map[string]string {
	return map[string]string{
		labelResourceId: r.Id,
		labelKind:       string(r.Kind),
		labelOwner:      r.Owner,
	}
}

func deploymentFor(r resource.Resource) *kubeapps.Deployment {
	name := objectName(r)
	labels := labelsFor(r)
	replicas := r.Replicas
	if replicas <= 0 {
		replicas = 1
	}
	port := r.Port
	if port <= 0 {
		port = 8080
	}

	return &kubeapps.Deployment{
		ObjectMeta: kubeapimeta.ObjectMeta{Name: name, Labels: labels},
		Spec: kubeapps.DeploymentSpec{
			Replicas: pointer.Ref(replicas),
			Selector: &kubeapimeta.LabelSelector{
				MatchLabels: map[string]string{labelResourceId: r.Id},
			},
			Template: kubecore.PodTemplateSpec{
				ObjectMeta: kubeapimeta.ObjectMeta{Labels: labels},
				Spec: kubecore.PodSpec{
					Containers: []kubecore.Container{
						{
							Name:  "main",
							Image: r.Image,
							Args:  r.Args,
							Ports: []kubecore.ContainerPort{
								{Name: "http", ContainerPort: port},
							},
						},
					},
				},
			},
		},
	}
}

func ingressFor(r resource.Resource, identity cluster.Identity) *kubenet.Ingress {
	name := objectName(r)
	port := r.Port
	if port <= 0 {
		port = 8080
	}
	pathType := kubenet.PathTypePrefix

	return &kubenet.Ingress{
		ObjectMeta: kubeapimeta.ObjectMeta{Name: name, Labels: labelsFor(r)},
		Spec: kubenet.IngressSpec{
			Rules: []kubenet.IngressRule{
				{
					Host: fmt.Sprintf("%s.%s", name, identity.Domain),
					IngressRuleValue: kubenet.IngressRuleValue{
						HTTP: &kubenet.HTTPIngressRuleValue{
							Paths: []kubenet.HTTPIngressPath{
								{
									Path:     "/",
									PathType: &pathType,
									Backend: kubenet.IngressBackend{
										Service: &kubenet.IngressServiceBackend{
											Name: name,
											Port: kubenet.ServiceBackendPort{Number: port},
										},
									},
								},
							},
						},
					},
				},
			},
		},
	}
}

func jobFor(r resource.Resource) *kubebatch.Job {
	name := objectName(r)
	labels := labelsFor(r)

	return &kubebatch.Job{
		ObjectMeta: kubeapimeta.ObjectMeta{Name: name, Labels: labels},
		Spec: kubebatch.JobSpec{
			BackoffLimit: pointer.Ref(int32(0)),
			Template: kubecore.PodTemplateSpec{
				ObjectMeta: kubeapimeta.ObjectMeta{Labels: labels},
				Spec: kubecore.PodSpec{
					RestartPolicy: kubecore.RestartPolicyNever,
					Containers: []kubecore.Container{
						{
							Name:  "main",
							Image: r.Image,
							Args:  r.Args,
						},
					},
				},
			},
		},
	}
}
