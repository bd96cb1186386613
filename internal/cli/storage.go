package cli

import (
	"fmt"

	"classpulse/internal/config"
	"classpulse/internal/rowlog"
)

// openSource opens the row source the dashboard side reads from. A
// configured spreadsheet export wins over local storage.
func openSource(cfg *config.Config) (rowlog.Source, func() error, error) {
	if cfg.Dashboard.SpreadsheetID != "" {
		src := rowlog.NewSheetSource(cfg.Dashboard.SpreadsheetID, cfg.Dashboard.SheetName)
		return src, func() error { return nil }, nil
	}

	switch cfg.Storage.Type {
	case "sqlite":
		db, err := rowlog.OpenSQLite(cfg.Storage.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open row log: %w", err)
		}
		return db, db.Close, nil
	case "memory":
		return rowlog.NewMemory(), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage type %q", cfg.Storage.Type)
	}
}

// openAppender opens the local row log the student side writes to when no
// form endpoint is configured.
func openAppender(cfg *config.Config) (rowlog.Appender, func() error, error) {
	switch cfg.Storage.Type {
	case "sqlite":
		db, err := rowlog.OpenSQLite(cfg.Storage.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open row log: %w", err)
		}
		return db, db.Close, nil
	case "memory":
		return rowlog.NewMemory(), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage type %q", cfg.Storage.Type)
	}
}
