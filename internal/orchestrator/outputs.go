package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/shaiso/Conveyor/internal/contract"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/ledger"
)

// registerOutputs записывает выходы завершённого шага в run-state по путям
// из контракта модуля. Отсутствующие файлы пропускаются: модуль не обязан
// писать каждый объявленный выход.
func (o *Orchestrator) registerOutputs(ctx context.Context, spec *domain.WorkorderSpec, step *domain.StepSpec, outDir string) error {
	c, err := o.registry.GetContract(step.ModuleID)
	if err != nil {
		return nil
	}
	for _, grp := range [][]contract.Port{c.Ports.Outputs.Port, c.Ports.Outputs.LimitedPort} {
		for i := range grp {
			port := &grp[i]
			rel := strings.TrimLeft(strings.TrimSpace(port.Path), "/")
			if rel == "" {
				continue
			}
			abs := filepath.Join(outDir, rel)
			info, err := os.Stat(abs)
			if err != nil {
				continue
			}
			sha, err := sha256File(abs)
			if err != nil {
				return fmt.Errorf("orchestrator: hash output %s: %w", rel, err)
			}
			rec := &domain.OutputRecord{
				TenantID:    spec.TenantID,
				WorkOrderID: spec.WorkOrderID,
				StepID:      step.StepID,
				ModuleID:    step.ModuleID,
				OutputID:    port.ID,
				Path:        rel,
				URI:         "file://" + abs,
				ContentType: port.Format,
				SHA256:      sha,
				Bytes:       info.Size(),
			}
			if err := o.runs.RecordOutput(ctx, rec); err != nil {
				return err
			}
		}
	}
	return nil
}

// deliveryReceipt — документ delivery_receipt.json, который доставочный
// модуль оставляет в каталоге выходов.
type deliveryReceipt struct {
	Provider           string `json:"provider"`
	RemotePath         string `json:"remote_path"`
	RemoteObjectID     string `json:"remote_object_id"`
	VerificationStatus string `json:"verification_status"`
	Bytes              int64  `json:"bytes"`
	SHA256             string `json:"sha256"`
}

// postDeliveryEvidence записывает нулевую позицию-доказательство доставки,
// если модуль оставил receipt. Отсутствие receipt — не ошибка.
func (o *Orchestrator) postDeliveryEvidence(ctx context.Context, run *workorderRun, step *domain.StepSpec, outDir string) error {
	data, err := os.ReadFile(filepath.Join(outDir, "delivery_receipt.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var receipt deliveryReceipt
	if err := json.Unmarshal(data, &receipt); err != nil {
		return fmt.Errorf("orchestrator: parse delivery receipt: %w", err)
	}
	return o.billing.PostDeliveryEvidence(ctx, ledger.EvidenceParams{
		TenantID:           run.spec.TenantID,
		WorkOrderID:        run.spec.WorkOrderID,
		StepID:             step.StepID,
		ModuleID:           step.ModuleID,
		TransactionID:      run.spend.TransactionID,
		Provider:           receipt.Provider,
		RemotePath:         receipt.RemotePath,
		VerificationStatus: receipt.VerificationStatus,
		Bytes:              receipt.Bytes,
	})
}

// sha256File возвращает hex-хэш содержимого файла.
func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
