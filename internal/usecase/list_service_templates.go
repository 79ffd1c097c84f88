package usecase

import "github.com/helios-home/control-plane/internal/domain"

// ServiceTemplateView is one entry of ListServiceTemplates' result: a kind
// paired with its fixed port-type set (spec.md §6 GET
// /api/v1/service-templates/), grounded on the original's
// list_service_templates.rs.
type ServiceTemplateView struct {
	Kind  domain.ServiceKind
	Ports []domain.ServicePortTemplate
}

// ListServiceTemplates has no dependencies: domain.ServiceTemplate is a
// fixed, in-memory map (spec.md §3 invariant: "the set of port-type
// identities for a given kind never changes at runtime").
type ListServiceTemplates struct{}

func NewListServiceTemplates() *ListServiceTemplates { return &ListServiceTemplates{} }

func (uc *ListServiceTemplates) Execute() []ServiceTemplateView {
	kinds := []domain.ServiceKind{domain.ServiceKindHelloWorld, domain.ServiceKindHelloWorld2}
	out := make([]ServiceTemplateView, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, ServiceTemplateView{Kind: k, Ports: domain.ServiceTemplate[k]})
	}
	return out
}
