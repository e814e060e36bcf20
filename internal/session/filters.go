package session

import (
	"taskweave/internal/config"
	"taskweave/internal/errs"
	"taskweave/internal/warnfilter"
)

func warningFiltersFromConfig(cfg config.Config) ([]warnfilter.Filter, error) {
	filters, err := warnfilter.ParseAll(cfg.Filterwarnings)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfiguration, "", err, "parse filterwarnings")
	}
	return filters, nil
}
