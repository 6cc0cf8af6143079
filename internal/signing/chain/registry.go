package chain

import (
	_ "embed"
	"os"
	"sort"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

//go:embed catalog.toml
var defaultCatalog []byte

var ErrUnsupportedNetwork = errors.New("unsupported network")

type catalogFile struct {
	Networks []Descriptor `toml:"network"`
}

// Registry resolves network ids to descriptors. It is read-only after construction.
type Registry struct {
	byID map[string]Descriptor
}

// NewRegistry loads the embedded catalog.
func NewRegistry() (*Registry, error) {
	return NewRegistryFromTOML(defaultCatalog)
}

func NewRegistryFromTOML(data []byte) (*Registry, error) {
	var file catalogFile
	if _, err := toml.Decode(string(data), &file); err != nil {
		return nil, errors.Wrap(err, "failed to decode chain catalog")
	}

	r := &Registry{byID: make(map[string]Descriptor, len(file.Networks))}
	for _, d := range file.Networks {
		if err := validate(d); err != nil {
			return nil, err
		}
		if _, dup := r.byID[d.NetworkID]; dup {
			return nil, errors.Errorf("duplicate network %q in chain catalog", d.NetworkID)
		}
		r.byID[d.NetworkID] = d
	}

	return r, nil
}

// WithOverrides returns a new registry where endpoints from the TOML file at path replace
// the catalog values of matching networks. Networks unknown to the catalog are added.
func (r *Registry) WithOverrides(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read chain override file %s", path)
	}

	var file catalogFile
	if _, err := toml.Decode(string(data), &file); err != nil {
		return nil, errors.Wrapf(err, "failed to decode chain override file %s", path)
	}

	next := &Registry{byID: make(map[string]Descriptor, len(r.byID))}
	for id, d := range r.byID {
		next.byID[id] = d.Clone()
	}

	for _, o := range file.Networks {
		base, ok := next.byID[o.NetworkID]
		if !ok {
			if err := validate(o); err != nil {
				return nil, err
			}
			next.byID[o.NetworkID] = o
			continue
		}

		if len(o.RPCEndpoints) > 0 {
			base.RPCEndpoints = o.RPCEndpoints
		}
		if o.ExplorerURL != "" {
			base.ExplorerURL = o.ExplorerURL
		}
		if o.LiteConfigURL != "" {
			base.LiteConfigURL = o.LiteConfigURL
		}
		if o.Bundler != nil {
			base.Bundler = o.Bundler
		}
		if o.Paymaster != nil {
			base.Paymaster = o.Paymaster
		}
		next.byID[o.NetworkID] = base
	}

	return next, nil
}

// Resolve returns the descriptor registered for networkID.
func (r *Registry) Resolve(networkID string) (Descriptor, error) {
	d, ok := r.byID[networkID]
	if !ok {
		return Descriptor{}, errors.Wrapf(ErrUnsupportedNetwork, "network %q", networkID)
	}

	return d.Clone(), nil
}

// GetChainFromNetwork is Resolve under the catalog collaborator's name.
func (r *Registry) GetChainFromNetwork(networkID string) (Descriptor, error) {
	return r.Resolve(networkID)
}

// Networks returns all registered network ids in lexical order.
func (r *Registry) Networks() []string {
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return ids
}

func validate(d Descriptor) error {
	if d.NetworkID == "" {
		return errors.New("chain catalog entry without id")
	}
	if !d.Family.Valid() {
		return errors.Errorf("network %q has unknown family %q", d.NetworkID, d.Family)
	}
	if d.Family == FamilyERC4337 && (d.SmartAccount == nil || d.Bundler == nil) {
		return errors.Errorf("network %q requires bundler and smart_account sections", d.NetworkID)
	}

	return nil
}
