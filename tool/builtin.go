package tool

import (
	"github.com/opensearch-project/mlagent/connector"
	"github.com/opensearch-project/mlagent/model"
)

// Dependencies are the collaborators of the built-in tools. A built-in is
// registered only when its collaborators are present.
type Dependencies struct {
	Catalog    IndexCatalog
	Connectors connector.Store
	Invoker    connector.Invoker
	Models     model.Resolver
}

// RegisterBuiltins installs ListIndexTool, ConnectorTool and MLModelTool.
func RegisterBuiltins(r *Registry, deps Dependencies) {
	if deps.Catalog != nil {
		r.Register(ListIndexToolType, ListIndexFactory(deps.Catalog))
	}
	if deps.Connectors != nil && deps.Invoker != nil {
		r.Register(ConnectorToolType, ConnectorFactory(deps.Connectors, deps.Invoker))
	}
	if deps.Models != nil {
		r.Register(MLModelToolType, MLModelFactory(deps.Models))
	}
}
