package kubernetes

import (
	"os"
	"strings"

	"k8s.io/client-go/tools/clientcmd"
)

const (
	DefaultNamespace     = "default"
	namespaceEnv         = "POD_NAMESPACE"
	serviceAccountNSFile = "/var/run/secrets/kubernetes.io/serviceaccount/namespace"
)

// overridable in tests
var (
	namespaceFile = serviceAccountNSFile
	kubeconfigNS  = func() string {
		cfg, err := clientcmd.NewDefaultClientConfigLoadingRules().Load()
		if err != nil {
			return ""
		}
		if kctx, ok := cfg.Contexts[cfg.CurrentContext]; ok && kctx != nil {
			return kctx.Namespace
		}
		return ""
	}
)

// DetectNamespace resolves the namespace for the Secret: the explicit value,
// then the current kubeconfig context, the downward API env var, the service
// account namespace file, and finally "default".
func DetectNamespace(explicit string) string {
	if ns := strings.TrimSpace(explicit); ns != "" {
		return ns
	}
	if ns := kubeconfigNS(); ns != "" {
		return ns
	}
	if ns := strings.TrimSpace(os.Getenv(namespaceEnv)); ns != "" {
		return ns
	}
	if data, err := os.ReadFile(namespaceFile); err == nil {
		if ns := strings.TrimSpace(string(data)); ns != "" {
			return ns
		}
	}
	return DefaultNamespace
}
