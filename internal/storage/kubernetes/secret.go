// Package kubernetes publishes the contract set as a Kubernetes Secret whose
// data keys are contract ids and whose values are the certificate PEM bytes.
//
// Every write replaces the data map wholesale and carries the resourceVersion
// of the preceding read, so a concurrent modification surfaces as a
// storage.Conflict error instead of being overwritten.
package kubernetes

import (
	"context"
	"fmt"
	"sort"
	"sync"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/aspect-build/contract-provider/internal/contract"
	"github.com/aspect-build/contract-provider/internal/logx"
	"github.com/aspect-build/contract-provider/internal/storage"
)

const (
	DefaultSecretName = "wirepact-contracts"

	LabelManagedBy      = "app.kubernetes.io/managed-by"
	ManagedByValue      = "wirepact-contract-provider"
	AnnotationTrustZone = "wirepact.ch/trust-zone"
	AnnotationDigest    = "wirepact.ch/contracts-digest"
	AnnotationRevision  = "wirepact.ch/repository-revision"
)

// Options configures the Secret storage.
type Options struct {
	SecretName string
	// Namespace is resolved with DetectNamespace when empty.
	Namespace string
}

// Storage keeps the contract set in a Secret.
type Storage struct {
	Client client.Client
	key    types.NamespacedName

	mu sync.Mutex
	// observed is the Secret as of the last Read; nil with seen set means
	// the Secret did not exist.
	observed *corev1.Secret
	seen     bool
}

var _ storage.Storage = (*Storage)(nil)

// New builds a Secret storage on top of an existing client.
func New(c client.Client, opts Options) *Storage {
	name := opts.SecretName
	if name == "" {
		name = DefaultSecretName
	}
	return &Storage{
		Client: c,
		key:    types.NamespacedName{Name: name, Namespace: DetectNamespace(opts.Namespace)},
	}
}

// NewForConfig creates a client for cfg (kubeconfig or in-cluster) and wraps it.
func NewForConfig(cfg *rest.Config, opts Options) (*Storage, error) {
	scheme := runtime.NewScheme()
	if err := clientgoscheme.AddToScheme(scheme); err != nil {
		return nil, fmt.Errorf("build scheme: %w", err)
	}
	c, err := client.New(cfg, client.Options{Scheme: scheme})
	if err != nil {
		return nil, storage.Errorf(storage.Unreachable, "init", fmt.Errorf("create kubernetes client: %w", err))
	}
	s := New(c, opts)
	logx.Debugf("storage.kubernetes secret=%s", s.key)
	return s, nil
}

func (s *Storage) Describe() string { return "secret " + s.key.String() }

// Key returns the namespaced name of the Secret.
func (s *Storage) Key() types.NamespacedName { return s.key }

// Read returns the contracts held by the Secret. A missing Secret is an empty
// set. Keys that do not hold a contract are reported in Set.Unreadable and are
// dropped by the next Write.
func (s *Storage) Read(ctx context.Context) (*contract.Set, error) {
	secret := &corev1.Secret{}
	if err := s.Client.Get(ctx, s.key, secret); err != nil {
		if apierrors.IsNotFound(err) {
			s.observe(nil)
			return contract.Empty(), nil
		}
		s.forget()
		return nil, classify("read", err)
	}
	set, err := decode(secret)
	if err != nil {
		s.forget()
		return nil, err
	}
	s.observe(secret)
	return set, nil
}

func decode(secret *corev1.Secret) (*contract.Set, error) {
	zone := secret.Annotations[AnnotationTrustZone]
	contracts := make([]contract.Contract, 0, len(secret.Data))
	var unreadable []string
	for id, cert := range secret.Data {
		c := contract.Contract{ID: id, TrustZone: zone, Certificate: cert}
		if err := c.Validate(); err != nil {
			logx.Warnf("storage.kubernetes secret=%s/%s key=%s is not a contract, next write drops it: %v",
				secret.Namespace, secret.Name, id, err)
			unreadable = append(unreadable, id)
			continue
		}
		contracts = append(contracts, c)
	}
	set, err := contract.NewSet(contracts...)
	if err != nil {
		return nil, storage.Errorf(storage.Unreachable, "read",
			fmt.Errorf("secret %s/%s holds invalid contract data: %w", secret.Namespace, secret.Name, err))
	}
	sort.Strings(unreadable)
	set.Unreadable = unreadable
	set.Revision = secret.Annotations[AnnotationRevision]
	return set, nil
}

func (s *Storage) observe(secret *corev1.Secret) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if secret != nil {
		secret = secret.DeepCopy()
	}
	s.observed, s.seen = secret, true
}

func (s *Storage) forget() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observed, s.seen = nil, false
}

// base returns the Secret the next write builds on. Without a preceding Read
// it fetches the current object.
func (s *Storage) base(ctx context.Context) (*corev1.Secret, error) {
	s.mu.Lock()
	observed, seen := s.observed, s.seen
	s.mu.Unlock()
	if seen {
		if observed == nil {
			return nil, nil
		}
		return observed.DeepCopy(), nil
	}

	secret := &corev1.Secret{}
	if err := s.Client.Get(ctx, s.key, secret); err != nil {
		if apierrors.IsNotFound(err) {
			return nil, nil
		}
		return nil, classify("write", err)
	}
	return secret, nil
}

// Write creates the Secret or replaces its data. The object carries the
// resourceVersion seen by the preceding Read, so a change made in between is
// reported as a Conflict. It performs a single attempt; callers retry Conflict
// errors with a fresh read.
func (s *Storage) Write(ctx context.Context, set *contract.Set) error {
	secret, err := s.base(ctx)
	if err != nil {
		return err
	}

	if secret == nil {
		secret = &corev1.Secret{
			ObjectMeta: metav1.ObjectMeta{Name: s.key.Name, Namespace: s.key.Namespace},
			Type:       corev1.SecretTypeOpaque,
		}
		s.apply(secret, set)
		if err := s.Client.Create(ctx, secret); err != nil {
			s.forget()
			if apierrors.IsAlreadyExists(err) {
				// Created by someone else since the read.
				return storage.Errorf(storage.Conflict, "create", err)
			}
			return classify("create", err)
		}
		s.observe(secret)
		logx.Debugf("storage.kubernetes created secret=%s keys=%d", s.key, set.Len())
		return nil
	}

	s.apply(secret, set)
	if err := s.Client.Update(ctx, secret); err != nil {
		s.forget()
		if apierrors.IsNotFound(err) {
			// Deleted since the read.
			return storage.Errorf(storage.Conflict, "update", err)
		}
		return classify("update", err)
	}
	s.observe(secret)
	logx.Debugf("storage.kubernetes updated secret=%s keys=%d resource_version=%s", s.key, set.Len(), secret.ResourceVersion)
	return nil
}

// apply replaces the data map wholesale and refreshes bookkeeping metadata.
func (s *Storage) apply(secret *corev1.Secret, set *contract.Set) {
	secret.Data = set.Data()
	secret.StringData = nil

	if secret.Labels == nil {
		secret.Labels = map[string]string{}
	}
	secret.Labels[LabelManagedBy] = ManagedByValue

	if secret.Annotations == nil {
		secret.Annotations = map[string]string{}
	}
	secret.Annotations[AnnotationDigest] = set.Digest()
	setOrDelete(secret.Annotations, AnnotationRevision, set.Revision)
	setOrDelete(secret.Annotations, AnnotationTrustZone, trustZoneOf(set))
}

func setOrDelete(m map[string]string, key, value string) {
	if value == "" {
		delete(m, key)
		return
	}
	m[key] = value
}

// trustZoneOf returns the zone shared by all contracts, or "" if they disagree.
func trustZoneOf(set *contract.Set) string {
	zone := ""
	for _, c := range set.Contracts() {
		switch {
		case c.TrustZone == "":
			continue
		case zone == "":
			zone = c.TrustZone
		case zone != c.TrustZone:
			return ""
		}
	}
	return zone
}

func classify(op string, err error) error {
	switch {
	case apierrors.IsConflict(err):
		return storage.Errorf(storage.Conflict, op, err)
	case apierrors.IsForbidden(err), apierrors.IsUnauthorized(err):
		return storage.Errorf(storage.Forbidden, op, err)
	default:
		return storage.Errorf(storage.Unreachable, op, fmt.Errorf("%s secret: %w", op, err))
	}
}
