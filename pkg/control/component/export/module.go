package export

import (
	"go.uber.org/fx"

	"github.com/anoop6543/PharmaVax-sub001/pkg/control/adapter/storage"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/audit"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/config"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/support/util/logger"
)

// NewAuditArchiverProvider returns the parquet archiver when audit archiving is enabled,
// otherwise nil so that the trail just trims.
func NewAuditArchiverProvider(cfg *config.Config, resolver *storage.Resolver) audit.Archiver {
	a := cfg.Controller.Audit.Archive
	if !a.Enabled {
		return nil
	}
	logger.Infof("Audit archive enabled: storage '%s', prefix '%s'.", a.Storage, a.Prefix)
	return NewAuditArchiver(resolver, a)
}

// Module provides the audit archiver.
var Module = fx.Options(
	fx.Provide(NewAuditArchiverProvider),
)
