package identity

import (
	"github.com/rorybyrne/sciencetalk-api-sub000/atproto/syntax"
)

// The service type under which an account declares its personal data server.
const ServiceTypePDS = "AtprotoPersonalDataServer"

type DIDDocument struct {
	DID     syntax.DID   `json:"id"`
	Service []DocService `json:"service,omitempty"`
}

type DocService struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	ServiceEndpoint string `json:"serviceEndpoint"`
}

// Returns the endpoint URL of the document's personal data server, or empty
// string if the document declares none.
func (doc *DIDDocument) PDSEndpoint() string {
	return doc.ServiceEndpoint(ServiceTypePDS)
}

// Returns the endpoint URL of the first declared service with the given type,
// or empty string if there is no match (or the matching entry has no
// endpoint).
func (doc *DIDDocument) ServiceEndpoint(svcType string) string {
	for _, svc := range doc.Service {
		if svc.Type == svcType {
			return svc.ServiceEndpoint
		}
	}
	return ""
}
