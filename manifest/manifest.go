// Package manifest parses an application's mfcloud.yml into the Service
// descriptors the rest of the daemon operates on. Services are derived at
// load time and never persisted — only the Application record that points
// at a manifest (by path or inline source) is.
package manifest

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrConfigParse wraps every manifest decoding failure.
var ErrConfigParse = errors.New("manifest: invalid configuration")

// ErrServiceNotFound is returned by Config.Service when the qualified name
// doesn't resolve to a service in this config.
var ErrServiceNotFound = errors.New("manifest: service not found")

// Wait is a service's readiness timeout: either disabled ("wait: false" or
// absent) or a non-negative number of seconds.
type Wait struct {
	Enabled bool
	Seconds float64
}

// UnmarshalYAML accepts either the literal false or a non-negative number.
func (w *Wait) UnmarshalYAML(value *yaml.Node) error {
	if value.Tag == "!!bool" {
		var b bool
		if err := value.Decode(&b); err != nil {
			return err
		}
		if b {
			return fmt.Errorf("wait: true is not valid; use a number of seconds or false")
		}
		*w = Wait{}
		return nil
	}
	var seconds float64
	if err := value.Decode(&seconds); err != nil {
		return fmt.Errorf("wait: must be false or a number of seconds: %w", err)
	}
	if seconds < 0 {
		return fmt.Errorf("wait: must be non-negative, got %v", seconds)
	}
	*w = Wait{Enabled: true, Seconds: seconds}
	return nil
}

// PortMapping binds a container port to a host port.
type PortMapping struct {
	ContainerPort string
	HostPort      string
	Protocol      string // "tcp" or "udp", defaults to "tcp"
}

// VolumeMount binds a source (a host path, or a name resolved against the
// manifest's top-level volumes block) to a container path.
type VolumeMount struct {
	Source string
	Target string
}

// Service is one container defined by an application's manifest.
type Service struct {
	Name string // unqualified, unique within its application
	App  string

	Image       string
	Command     []string
	Ports       []PortMapping
	Volumes     []VolumeMount
	VolumesFrom []string
	Env         map[string]string
	Wait        Wait
	// Web marks the service whose address is surfaced as an application's
	// default ip/fullname in listing details (original_source's is_web).
	Web bool
}

// Qualified returns the service.app name used on the wire and in logs.
func (s *Service) Qualified() string { return s.Name + "." + s.App }

// Volume looks up one of the service's volume mounts by source name.
func (s *Service) Volume(name string) (VolumeMount, bool) {
	for _, v := range s.Volumes {
		if v.Source == name {
			return v, true
		}
	}
	return VolumeMount{}, false
}

// Config is a parsed mfcloud.yml.
type Config struct {
	AppName  string
	services map[string]*Service
	volumes  map[string]string
	hosts    []string
}

type rawConfig struct {
	Services map[string]rawService `yaml:"services"`
	Volumes  map[string]string     `yaml:"volumes"`
	Hosts    []string              `yaml:"hosts"`
}

type rawService struct {
	Image       string            `yaml:"image"`
	Command     []string          `yaml:"command"`
	Ports       []string          `yaml:"ports"`
	Volumes     []string          `yaml:"volumes"`
	VolumesFrom []string          `yaml:"volumes_from"`
	Env         map[string]string `yaml:"env"`
	Wait        Wait              `yaml:"wait"`
	Web         bool              `yaml:"web"`
}

// Parse decodes an mfcloud.yml document. appName qualifies every service
// name on the way out.
func Parse(data []byte, appName string) (*Config, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigParse, err)
	}
	if len(root.Content) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrConfigParse)
	}
	doc := root.Content[0]

	if err := checkDuplicateKeys(doc, "services"); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigParse, err)
	}
	if err := checkDuplicateKeys(doc, "volumes"); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigParse, err)
	}

	var raw rawConfig
	if err := doc.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigParse, err)
	}

	cfg := &Config{
		AppName:  appName,
		services: make(map[string]*Service, len(raw.Services)),
		volumes:  raw.Volumes,
		hosts:    raw.Hosts,
	}

	for name, rs := range raw.Services {
		svc, err := buildService(name, appName, rs)
		if err != nil {
			return nil, fmt.Errorf("%w: service %q: %v", ErrConfigParse, name, err)
		}
		cfg.services[name] = svc
	}

	return cfg, nil
}

func buildService(name, appName string, rs rawService) (*Service, error) {
	if rs.Image == "" {
		return nil, errors.New("image is required")
	}

	ports := make([]PortMapping, 0, len(rs.Ports))
	for _, p := range rs.Ports {
		pm, err := parsePort(p)
		if err != nil {
			return nil, err
		}
		ports = append(ports, pm)
	}

	volumes := make([]VolumeMount, 0, len(rs.Volumes))
	for _, v := range rs.Volumes {
		volumes = append(volumes, parseVolume(v))
	}

	return &Service{
		Name:        name,
		App:         appName,
		Image:       rs.Image,
		Command:     rs.Command,
		Ports:       ports,
		Volumes:     volumes,
		VolumesFrom: rs.VolumesFrom,
		Env:         rs.Env,
		Wait:        rs.Wait,
		Web:         rs.Web,
	}, nil
}

// parsePort accepts "host:container", "host:container/udp", or a bare
// "container" port (host port chosen by the engine at create time).
func parsePort(spec string) (PortMapping, error) {
	protocol := "tcp"
	if idx := strings.LastIndex(spec, "/"); idx != -1 {
		protocol = spec[idx+1:]
		spec = spec[:idx]
	}
	parts := strings.SplitN(spec, ":", 2)
	if len(parts) == 1 {
		if _, err := strconv.Atoi(parts[0]); err != nil {
			return PortMapping{}, fmt.Errorf("invalid port %q: %w", spec, err)
		}
		return PortMapping{ContainerPort: parts[0], Protocol: protocol}, nil
	}
	if _, err := strconv.Atoi(parts[0]); err != nil {
		return PortMapping{}, fmt.Errorf("invalid host port %q: %w", parts[0], err)
	}
	if _, err := strconv.Atoi(parts[1]); err != nil {
		return PortMapping{}, fmt.Errorf("invalid container port %q: %w", parts[1], err)
	}
	return PortMapping{HostPort: parts[0], ContainerPort: parts[1], Protocol: protocol}, nil
}

// parseVolume accepts "source:target"; a bare entry is treated as a
// container path with no explicit host source (anonymous volume).
func parseVolume(spec string) VolumeMount {
	parts := strings.SplitN(spec, ":", 2)
	if len(parts) == 1 {
		return VolumeMount{Target: parts[0]}
	}
	return VolumeMount{Source: parts[0], Target: parts[1]}
}

// checkDuplicateKeys reports an error if the mapping value of field (a
// direct child key of node) itself contains a repeated key — something
// yaml.v3's struct decoding would otherwise silently collapse.
func checkDuplicateKeys(node *yaml.Node, field string) error {
	if node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i]
		if key.Value != field {
			continue
		}
		value := node.Content[i+1]
		if value.Kind != yaml.MappingNode {
			return nil
		}
		seen := make(map[string]bool, len(value.Content)/2)
		for j := 0; j+1 < len(value.Content); j += 2 {
			k := value.Content[j].Value
			if seen[k] {
				return fmt.Errorf("duplicate %s key: %q", field, k)
			}
			seen[k] = true
		}
		return nil
	}
	return nil
}

// Services returns every service defined in the manifest, keyed by its
// unqualified name.
func (c *Config) Services() map[string]*Service {
	return c.services
}

// Service resolves a "name.app" or bare "name" reference (bare names are
// assumed to belong to this config's AppName).
func (c *Config) Service(ref string) (*Service, error) {
	name, app, ok := strings.Cut(ref, ".")
	if !ok {
		name, app = ref, c.AppName
	}
	if app != c.AppName {
		return nil, fmt.Errorf("%w: %q belongs to application %q, not %q", ErrServiceNotFound, ref, app, c.AppName)
	}
	svc, ok := c.services[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrServiceNotFound, ref)
	}
	return svc, nil
}

// Volumes returns the manifest's named top-level volumes (name -> host
// path).
func (c *Config) Volumes() map[string]string {
	return c.volumes
}

// Hosts returns the manifest's extra /etc/hosts-style entries.
func (c *Config) Hosts() []string {
	return c.hosts
}
