package k8s

import (
	"bytes"
	"fmt"
	"os"
	"text/template"

	corev1 "k8s.io/api/core/v1"
	"sigs.k8s.io/yaml"
)

// defaultPodTemplate used when no template file is configured
const defaultPodTemplate = `apiVersion: v1
kind: Pod
metadata:
  name: {{ .PodName }}
  namespace: {{ .Namespace }}
spec:
  restartPolicy: Never
  containers:
    - name: frame-parser
      image: {{ .Image }}
      env:
        - name: STREAM_NAME
          value: {{ printf "%q" .StreamName }}
`

// RenderContext variables available to the worker pod template
type RenderContext struct {
	PodName    string `json:"podName"`
	Namespace  string `json:"namespace"`
	Image      string `json:"image"`
	StreamName string `json:"streamName"` // raw stream id
	StreamKey  string `json:"streamKey"`  // DNS-1123 safe stream id
}

// TemplateRenderer renders worker pods from a text/template YAML file
type TemplateRenderer struct {
	tmpl *template.Template
}

// NewTemplateRenderer parses the template at path, or the built-in one when path is empty
func NewTemplateRenderer(path string) (*TemplateRenderer, error) {
	content := defaultPodTemplate
	name := "default-pod"
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read template file: %v", err)
		}
		content = string(data)
		name = path
	}

	tmpl, err := template.New(name).Option("missingkey=error").Parse(content)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %v", err)
	}
	return &TemplateRenderer{tmpl: tmpl}, nil
}

// Render executes the template and decodes the result into a Pod
func (r *TemplateRenderer) Render(ctx *RenderContext) (*corev1.Pod, error) {
	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, ctx); err != nil {
		return nil, fmt.Errorf("failed to execute template: %v", err)
	}

	var pod corev1.Pod
	if err := yaml.UnmarshalStrict(buf.Bytes(), &pod); err != nil {
		return nil, fmt.Errorf("failed to decode rendered pod: %v", err)
	}
	return &pod, nil
}
