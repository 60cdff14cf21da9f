package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// hashKey — первые 24 hex-символа sha256 от частей, соединённых «|».
func hashKey(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])[:24]
}

// KeyWorkorderSpend — ключ заголовочной SPEND-транзакции work order.
func KeyWorkorderSpend(tenantID, workOrderID, workorderPath, planType string) string {
	return "wo_spend_" + hashKey(tenantID, workOrderID, workorderPath, planType)
}

// KeyStepRun — ключ создания записи запуска шага.
func KeyStepRun(tenantID, workOrderID, stepID, moduleID string) string {
	return "step_run_" + hashKey(tenantID, workOrderID, stepID, moduleID)
}

// KeyStepRunCharge — ключ позиции базового списания за шаг.
func KeyStepRunCharge(tenantID, workOrderID, stepID, moduleID string) string {
	return "ti_spend_run_" + hashKey(tenantID, workOrderID, stepID, moduleID, "__run__")
}

// KeyDeliverableCharge — ключ позиции списания за deliverable.
func KeyDeliverableCharge(tenantID, workOrderID, stepID, moduleID, deliverableID string) string {
	return "ti_spend_deliv_" + hashKey(tenantID, workOrderID, stepID, moduleID, deliverableID)
}

// KeyRefund — ключ позиции возврата; код причины входит в ключ, чтобы
// разные причины не склеивались.
func KeyRefund(tenantID, workOrderID, stepID, moduleID, deliverableID, reasonCode string) string {
	return "ti_refund_" + hashKey(tenantID, workOrderID, stepID, moduleID, deliverableID, reasonCode)
}

// KeyDeliveryEvidence — ключ нулевой позиции с доказательством доставки.
func KeyDeliveryEvidence(tenantID, workOrderID, stepID, moduleID string) string {
	return "ti_delivery_evidence_" + hashKey(tenantID, workOrderID, stepID, moduleID, "delivery_evidence")
}

// KeyAuditGate — ключ нулевой аудиторской транзакции гейта
// (__credits_gate__, __preflight__).
func KeyAuditGate(tenantID, workOrderID, feature, reasonCode string) string {
	return "tx_gate_" + hashKey(tenantID, workOrderID, feature, reasonCode)
}
