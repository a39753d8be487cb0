package tools

import (
	"fmt"
	"strings"

	"github.com/foiacquire/muckrake/pkg/apierr"
	"github.com/foiacquire/muckrake/pkg/models"
)

// Registrar stores tool configs. Project and workspace stores satisfy it.
type Registrar interface {
	AddToolConfig(cfg *models.ToolConfig) error
}

// Register validates cfg and stores it. Overrides that take a tool off the
// proxy need confirmed set.
func Register(dst Registrar, cfg *models.ToolConfig, proxyURL string, confirmed bool) error {
	if err := validAction(cfg.Action); err != nil {
		return err
	}
	if strings.TrimSpace(cfg.Command) == "" {
		return apierr.New(apierr.CodeInvalidName, fmt.Sprintf("tool %q needs a command", cfg.Action))
	}
	if cfg.Scope != nil && cfg.Tag != nil {
		return apierr.New(apierr.CodeInvalidName, fmt.Sprintf("tool %q takes a scope or a tag, not both", cfg.Action))
	}
	if cfg.Tag != nil {
		if err := models.ValidateName("tag", *cfg.Tag); err != nil {
			return err
		}
	}
	if cfg.Scope != nil {
		trimmed := strings.Trim(*cfg.Scope, "/")
		cfg.Scope = &trimmed
	}
	cfg.FileType = strings.ToLower(strings.TrimPrefix(cfg.FileType, "."))
	if err := CheckPrivacy(cfg.Action, cfg.Env, proxyURL, confirmed); err != nil {
		return err
	}
	return dst.AddToolConfig(cfg)
}
