// Package kubernetes adapts k8s.io/client-go into an ingest.Sink that runs
// a batch Job per delivery, grounded on whitaker-io/machine's
// components/kubernetes Terminus (which has no Initium counterpart: there
// is no generic notion of "poll a cluster for work").
package kubernetes

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/viper"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/homedir"
)

func client(inCluster bool) (*kubernetes.Clientset, error) {
	if inCluster {
		cfg, err := rest.InClusterConfig()
		if err != nil {
			return nil, err
		}
		return kubernetes.NewForConfig(cfg)
	}
	cfg, err := clientcmd.BuildConfigFromFlags("", filepath.Join(homedir.HomeDir(), ".kube", "config"))
	if err != nil {
		return nil, err
	}
	return kubernetes.NewForConfig(cfg)
}

// NewSink returns a Sink that, for every delivery, marshals items as JSON
// into a PAYLOAD env var and launches a batch Job from v's "name",
// "namespace", "image", "command"/"args"/"environment".
func NewSink(v *viper.Viper) (func(ctx context.Context, items []map[string]interface{}) error, error) {
	name := v.GetString("name")
	namespace := v.GetString("namespace")
	image := v.GetString("image")
	command := v.GetStringSlice("command")
	args := v.GetStringSlice("args")
	environment := v.GetStringMapString("environment")

	clientset, err := client(v.GetBool("in_cluster"))
	if err != nil {
		return nil, fmt.Errorf("ingest/kubernetes: client: %w", err)
	}

	return func(ctx context.Context, items []map[string]interface{}) error {
		payload, err := json.Marshal(items)
		if err != nil {
			return fmt.Errorf("ingest/kubernetes: marshal payload: %w", err)
		}

		env := []corev1.EnvVar{{Name: "PAYLOAD", Value: string(payload)}}
		for k, val := range environment {
			env = append(env, corev1.EnvVar{Name: k, Value: val})
		}

		jobName := name + "-" + uuid.New().String()
		_, err = clientset.BatchV1().Jobs(namespace).Create(ctx, &batchv1.Job{
			ObjectMeta: metav1.ObjectMeta{Name: jobName, Namespace: namespace},
			Spec: batchv1.JobSpec{
				Template: corev1.PodTemplateSpec{
					ObjectMeta: metav1.ObjectMeta{Name: jobName, Namespace: namespace},
					Spec: corev1.PodSpec{
						RestartPolicy: corev1.RestartPolicyNever,
						Containers: []corev1.Container{{
							Name:    name,
							Image:   image,
							Command: command,
							Args:    args,
							Env:     env,
						}},
					},
				},
			},
		}, metav1.CreateOptions{})
		if err != nil {
			return fmt.Errorf("ingest/kubernetes: create job: %w", err)
		}
		return nil
	}, nil
}
