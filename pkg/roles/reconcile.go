package roles

import (
	"context"
	"fmt"
	"time"
)

// ReconcileReport summarizes a Reconcile pass
type ReconcileReport struct {
	Roles    int `json:"roles"`
	Derived  int `json:"derived"`
	Repaired int `json:"repaired"`
}

func (r ReconcileReport) String() string {
	return fmt.Sprintf("roles: %d derived: %d repaired: %d", r.Roles, r.Derived, r.Repaired)
}

// Reconcile brings every role's derived grants back in line with the role:
// missing site grants are derived, derived groups re-mirror their base group
// and grants whose flags drifted are rewritten. Each role runs in its own
// transaction so one broken role does not block the others.
func (e *Engine) Reconcile(ctx context.Context) (report *ReconcileReport, err error) {
	defer e.observe("reconcile", time.Now(), &err)

	list, err := e.store.ListRoles(ctx)
	if err != nil {
		return nil, err
	}

	report = &ReconcileReport{}
	for i := range list {
		role := &list[i]
		derived, repaired, err := e.reconcileRole(ctx, role)
		if err != nil {
			return report, fmt.Errorf("failed to reconcile role %q: %w", role.Name, err)
		}
		report.Roles++
		report.Derived += derived
		report.Repaired += repaired
		if derived > 0 || repaired > 0 {
			e.log.ForContext(ctx).Debugf("role %s: %d derived, %d repaired", role.Name, derived, repaired)
		}
	}

	e.log.ForContext(ctx).WithFields(map[string]interface{}{
		"roles":    report.Roles,
		"derived":  report.Derived,
		"repaired": report.Repaired,
	}).Info("reconciled roles")
	return report, nil
}

func (e *Engine) reconcileRole(ctx context.Context, role *Role) (derived, repaired int, err error) {
	err = e.db.WithTx(ctx, func(ctx context.Context) error {
		strategy := e.Strategy(role)

		if role.IsSiteWide {
			grants, err := e.store.SiteGrants(ctx, role.ID)
			if err != nil {
				return err
			}
			for _, g := range grants {
				if g.Permissions != role.Permissions {
					repaired++
				}
			}
			if err := e.materializer.Mirror(ctx, role); err != nil {
				return err
			}
			if err := strategy.Derive(ctx, role); err != nil {
				return err
			}
			after, err := e.store.SiteGrants(ctx, role.ID)
			if err != nil {
				return err
			}
			derived = len(after) - len(grants)
		} else {
			grants, err := e.store.PageGrants(ctx, role.ID)
			if err != nil {
				return err
			}
			for _, g := range grants {
				if g.Permissions != role.Permissions {
					repaired++
				}
			}
		}

		if repaired == 0 {
			return nil
		}
		if _, err := strategy.PropagateFlags(ctx, role); err != nil {
			return err
		}
		e.metrics.FlagPropagationsTotal.WithLabelValues(string(role.Mode())).Add(float64(repaired))
		return nil
	})
	return derived, repaired, err
}
