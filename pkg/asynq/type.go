package asynq

const (
	// ProvisionEntitlementsTask grants download entitlements for every
	// digital line item of a paid order.
	ProvisionEntitlementsTask = "entitlement:provision"
)

type ProvisionEntitlementsPayload struct {
	OrderID string `json:"order_id"`
}
