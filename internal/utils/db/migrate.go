package db

import (
	"github.com/KromaEnergia/contract-engine/internal/approval"
	"github.com/KromaEnergia/contract-engine/internal/audit"
	"github.com/KromaEnergia/contract-engine/internal/certificate"
	"github.com/KromaEnergia/contract-engine/internal/changeorder"
	"github.com/KromaEnergia/contract-engine/internal/contract"
	"github.com/KromaEnergia/contract-engine/internal/project"
	"github.com/KromaEnergia/contract-engine/internal/reconciliation"
	"gorm.io/gorm"
)

// Models lists every table owned by the engine, parents first.
func Models() []any {
	return []any{
		&project.Tenant{},
		&project.Project{},
		&contract.Contract{},
		&contract.Line{},
		&contract.BudgetLine{},
		&contract.Expense{},
		&contract.Adjustment{},
		&changeorder.ChangeOrder{},
		&changeorder.Line{},
		&certificate.Certificate{},
		&reconciliation.ActualPayment{},
		&reconciliation.ScheduledPayment{},
		&reconciliation.ExpenseEvent{},
		&approval.ChangeRequest{},
		&approval.Approval{},
		&audit.Record{},
	}
}

func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}
