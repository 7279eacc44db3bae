// ABOUTME: AWS EKS system inventory built from Kubernetes workloads.
// ABOUTME: Lists Deployments, StatefulSets and DaemonSets and yields one system row per container.

package aws

import (
	"context"
	"fmt"
	"strings"

	"github.com/jfeddern/VulnRisk/internal/providers/records"
	"github.com/jfeddern/VulnRisk/internal/table"
	"github.com/jfeddern/VulnRisk/internal/types"
	"github.com/sirupsen/logrus"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// EKSInventory implements SystemSource for Amazon EKS
type EKSInventory struct {
	clientset kubernetes.Interface
	namespace string // Empty lists all namespaces
	logger    *logrus.Logger
}

// NewEKSInventory connects to the cluster the process runs in, falling back to
// the local kubeconfig
func NewEKSInventory(namespace string, logger *logrus.Logger) (*EKSInventory, error) {
	// Try in-cluster config first (for pod deployment)
	config, err := rest.InClusterConfig()
	if err != nil {
		logger.Info("In-cluster config not available, trying kubeconfig")
		config, err = clientcmd.BuildConfigFromFlags("", clientcmd.RecommendedHomeFile)
		if err != nil {
			return nil, fmt.Errorf("failed to build kubernetes config: %w", err)
		}
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes clientset: %w", err)
	}

	logger.Info("Successfully connected to EKS cluster")
	return NewEKSInventoryWithClient(clientset, namespace, logger), nil
}

// NewEKSInventoryWithClient creates an inventory over an existing clientset
func NewEKSInventoryWithClient(clientset kubernetes.Interface, namespace string, logger *logrus.Logger) *EKSInventory {
	return &EKSInventory{
		clientset: clientset,
		namespace: namespace,
		logger:    logger,
	}
}

// Name returns the source name
func (e *EKSInventory) Name() string {
	return "aws-eks"
}

// IsRegistryImage checks if the image is from an ECR registry
func IsRegistryImage(imageURI string) bool {
	return strings.Contains(imageURI, ".dkr.ecr.") && strings.Contains(imageURI, ".amazonaws.com/")
}

// LoadSystems returns the inventory table of all discovered containers
func (e *EKSInventory) LoadSystems(ctx context.Context) (*table.Frame, error) {
	images, err := e.DiscoverImages(ctx)
	if err != nil {
		return nil, err
	}
	return table.SystemFrame(records.FromImages(images)), nil
}

// DiscoverImages lists every container image of the cluster's workloads
func (e *EKSInventory) DiscoverImages(ctx context.Context) ([]types.ImageInfo, error) {
	logger := e.logger.WithField("operation", "discover_images")

	var images []types.ImageInfo

	deployments, err := e.clientset.AppsV1().Deployments(e.namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		logger.WithError(err).Error("Failed to list deployments")
		return nil, fmt.Errorf("failed to list deployments: %w", err)
	}
	for _, d := range deployments.Items {
		images = append(images, e.imagesFromPodSpec(d.ObjectMeta, d.Spec.Template, "Deployment")...)
	}

	statefulSets, err := e.clientset.AppsV1().StatefulSets(e.namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		logger.WithError(err).Error("Failed to list statefulsets")
		return nil, fmt.Errorf("failed to list statefulsets: %w", err)
	}
	for _, s := range statefulSets.Items {
		images = append(images, e.imagesFromPodSpec(s.ObjectMeta, s.Spec.Template, "StatefulSet")...)
	}

	daemonSets, err := e.clientset.AppsV1().DaemonSets(e.namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		logger.WithError(err).Error("Failed to list daemonsets")
		return nil, fmt.Errorf("failed to list daemonsets: %w", err)
	}
	for _, d := range daemonSets.Items {
		images = append(images, e.imagesFromPodSpec(d.ObjectMeta, d.Spec.Template, "DaemonSet")...)
	}

	logger.WithFields(logrus.Fields{
		"deployments":  len(deployments.Items),
		"statefulsets": len(statefulSets.Items),
		"daemonsets":   len(daemonSets.Items),
		"image_count":  len(images),
	}).Info("Image discovery completed")

	return images, nil
}

// imagesFromPodSpec emits one image per main and init container. Annotations
// of the pod template take precedence over the workload's own.
func (e *EKSInventory) imagesFromPodSpec(meta metav1.ObjectMeta, template corev1.PodTemplateSpec, workloadType string) []types.ImageInfo {
	annotations := make(map[string]string, len(meta.Annotations)+len(template.Annotations)+1)
	for k, v := range meta.Annotations {
		annotations[k] = v
	}
	for k, v := range template.Annotations {
		annotations[k] = v
	}
	if _, ok := annotations[records.AnnotationDiscoveredAt]; !ok {
		if ts := records.FormatTimestamp(meta.CreationTimestamp.Time); ts != "" {
			annotations[records.AnnotationDiscoveredAt] = ts
		}
	}

	containers := append([]corev1.Container{}, template.Spec.Containers...)
	containers = append(containers, template.Spec.InitContainers...)

	images := make([]types.ImageInfo, 0, len(containers))
	for _, container := range containers {
		if container.Image == "" {
			continue
		}
		images = append(images, types.ImageInfo{
			URI:          container.Image,
			Namespace:    meta.Namespace,
			Workload:     meta.Name,
			WorkloadType: workloadType,
			Container:    container.Name,
			Annotations:  annotations,
		})
	}
	return images
}
