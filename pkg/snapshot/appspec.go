package snapshot

import (
	"reflect"
	"time"

	"github.com/cazacugmihai/fleetctl/pkg/pathid"
)

// Resources declares the footprint reserved for every instance of an app.
type Resources struct {
	CPU    float64 // fractional cores
	MemMB  float64
	DiskMB float64
}

// Backoff is the exponential launch-retry policy an app carries. The
// DeploymentExecutor schedules the next launch attempt after
// min(Initial * Factor^k, Max).
type Backoff struct {
	Initial time.Duration
	Factor  float64
	Max     time.Duration
}

// DefaultBackoff mirrors the teacher's scheduler retry cadence.
var DefaultBackoff = Backoff{Initial: time.Second, Factor: 1.15, Max: time.Minute}

// Delay returns the launch delay after k consecutive failures.
func (b Backoff) Delay(k int) time.Duration {
	if k <= 0 {
		return 0
	}
	d := float64(b.Initial)
	for i := 0; i < k; i++ {
		d *= b.Factor
	}
	if d > float64(b.Max) {
		d = float64(b.Max)
	}
	return time.Duration(d)
}

// PortDefinition declares one port an app's container exposes.
type PortDefinition struct {
	Port     int
	Protocol string // "tcp" or "udp"
}

// ContainerSpec is the minimal container launch descriptor consulted by the
// TaskLaunchFacade.
type ContainerSpec struct {
	Image string
	Args  []string
	Env   map[string]string
}

// HealthCheckProtocol names the probe mechanism a health check uses.
type HealthCheckProtocol string

const (
	HealthCheckHTTP    HealthCheckProtocol = "HTTP"
	HealthCheckTCP     HealthCheckProtocol = "TCP"
	HealthCheckCommand HealthCheckProtocol = "COMMAND"
)

// HealthCheckSpec declares one probe the HealthSupervisor runs against every
// instance of an app. COMMAND checks are never dispatched by the supervisor
// itself (per §4.6) — they are reported asynchronously by the task runtime.
type HealthCheckSpec struct {
	Protocol               HealthCheckProtocol
	Path                   string // HTTP
	Port                   int    // HTTP, TCP
	Command                []string
	IntervalSeconds        int
	TimeoutSeconds         int
	GracePeriodSeconds     int
	MaxConsecutiveFailures int
}

// SecretRef names a secret resolved against the security package's
// SecretsManager at launch time. EncryptedValue is AES-256-GCM ciphertext; it is
// never exposed outside the TaskLaunchFacade adapter in plaintext.
//
// PlaintextValue only exists on the submission path: a caller populates it
// instead of EncryptedValue when declaring a new secret, GroupManager seals
// it into EncryptedValue before the spec ever reaches the raft log or the
// repository, and clears it. A stored or committed AppSpec never carries a
// non-empty PlaintextValue.
type SecretRef struct {
	Name           string
	EncryptedValue []byte
	PlaintextValue []byte `json:",omitempty"`
}

// AppSpec is the declarative description of a long-running workload.
// Immutable: any change produces a new value with a new Version.
type AppSpec struct {
	Id                    pathid.PathId
	Version               Timestamp
	Cmd                   string
	Resources             Resources
	Instances             int
	Container             *ContainerSpec
	HealthChecks          []HealthCheckSpec
	Backoff               Backoff
	Constraints           []string
	PortDefinitions       []PortDefinition
	Dependencies          []pathid.PathId
	MinimumHealthCapacity float64
	MaximumOverCapacity   float64
	Secrets               []SecretRef
}

// EqualSpec reports whether two specs are equal ignoring Id and Version —
// used by the planner to decide whether an app changed at all.
func (a AppSpec) EqualSpec(b AppSpec) bool {
	a.Id, b.Id = pathid.PathId{}, pathid.PathId{}
	a.Version, b.Version = Zero, Zero
	return reflect.DeepEqual(a, b)
}

// EqualIgnoringInstances reports whether two specs differ only (at most) in
// Instances — used by the planner to classify a change as scale-only.
func (a AppSpec) EqualIgnoringInstances(b AppSpec) bool {
	a.Instances, b.Instances = 0, 0
	return a.EqualSpec(b)
}

// WithInstances returns a copy of a with Instances and Version replaced.
func (a AppSpec) WithInstances(n int, v Timestamp) AppSpec {
	a.Instances = n
	a.Version = v
	return a
}

// ScaledUp rounds n*factor up to the nearest integer, per the scaleBy
// contract in §3.
func ScaledUp(n int, factor float64) int {
	scaled := float64(n) * factor
	rounded := int(scaled)
	if float64(rounded) < scaled {
		rounded++
	}
	return rounded
}
