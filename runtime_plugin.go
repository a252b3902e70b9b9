package orkestra

// RuntimePlugin contributes a configuration layer and runtime components to a
// call. Client plugins apply before operation plugins.
type RuntimePlugin interface {
	Config() *FrozenLayer
	RuntimeComponents() *RuntimeComponentsBuilder
}

// StaticRuntimePlugin is a RuntimePlugin built from fixed values. Either
// field may be nil.
type StaticRuntimePlugin struct {
	Layer      *FrozenLayer
	Components *RuntimeComponentsBuilder
}

func (p StaticRuntimePlugin) Config() *FrozenLayer { return p.Layer }

func (p StaticRuntimePlugin) RuntimeComponents() *RuntimeComponentsBuilder { return p.Components }

// applyPlugins pushes every plugin layer onto cfg and merges every plugin
// builder onto base, in order.
func applyPlugins(cfg *ConfigBag, base *RuntimeComponentsBuilder, plugins []RuntimePlugin) *RuntimeComponentsBuilder {
	merged := base
	for _, p := range plugins {
		if p == nil {
			continue
		}
		cfg.PushLayer(p.Config())
		if rb := p.RuntimeComponents(); rb != nil {
			merged = merged.MergeFrom(rb)
		}
	}
	return merged
}
