package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/helios-home/control-plane/internal/domain"
	"github.com/helios-home/control-plane/internal/logging"
	"github.com/helios-home/control-plane/internal/repository"
)

// OperatingSystem enumerates the install script targets; only linux exists
// today, matching the original's OperatingSystem enum.
type OperatingSystem string

const OSLinux OperatingSystem = "linux"

var ErrUnsupportedOS = errors.New("usecase: unsupported operating system")

// InstallationScript is the rendered per-OS install script (spec.md §4.9,
// §6 "Installation script").
type InstallationScript struct {
	Content  string
	MimeType string
	FileName string
}

// InstallScriptConfig supplies the per-kind download base URL and the
// control plane's own base URL substituted into the template.
type InstallScriptConfig struct {
	HelloWorldDownloadBaseURL  string
	HelloWorld2DownloadBaseURL string
	HeliosBaseURL              string
}

func (c InstallScriptConfig) downloadBaseURL(kind domain.ServiceKind) string {
	switch kind {
	case domain.ServiceKindHelloWorld2:
		return c.HelloWorld2DownloadBaseURL
	default:
		return c.HelloWorldDownloadBaseURL
	}
}

// linuxInstallScriptTemplate mirrors the shape of the original's
// install_script_linux.sh asset: it downloads the agent binary, writes its
// config (including the HMAC token) and registers a systemd unit.
const linuxInstallScriptTemplate = `#!/bin/sh
set -eu

AGENT_BINARY_BASE_URL="%s"
HELIOS_BASE_URL="%s"
SERVICE_TOKEN="%s"

curl -fsSL "${AGENT_BINARY_BASE_URL}/agent" -o /usr/local/bin/helios-agent
chmod +x /usr/local/bin/helios-agent

cat > /etc/helios-agent.env <<EOF
HELIOS_BASE_URL=${HELIOS_BASE_URL}
HELIOS_AGENT_TOKEN=${SERVICE_TOKEN}
EOF
chmod 600 /etc/helios-agent.env

systemctl enable --now helios-agent
`

// GenerateInstallScript implements spec.md §4.9: reads a Service,
// substitutes {agent_binary_base_url, token, helios_base_url} into the
// per-OS template, strips CR, and returns the rendered script. Resolves
// §9 Open Question 1 by ROTATING the service's token on every successful
// download: the returned script embeds a freshly generated token, and that
// token replaces the service's stored one before the script is handed
// back, so a previously downloaded script (and the token it exposed)
// cannot re-authenticate after a later re-download.
type GenerateInstallScript struct {
	repos  repository.ServicesRepository
	uow    repository.UnitOfWorkProvider
	config InstallScriptConfig
	log    *logging.Logger
}

func NewGenerateInstallScript(repos repository.ServicesRepository, uow repository.UnitOfWorkProvider, config InstallScriptConfig, log *logging.Logger) *GenerateInstallScript {
	return &GenerateInstallScript{repos: repos, uow: uow, config: config, log: log}
}

func (uc *GenerateInstallScript) Execute(ctx context.Context, os OperatingSystem, serviceID uuid.UUID) (InstallationScript, error) {
	if os != OSLinux {
		return InstallationScript{}, fmt.Errorf("%w: %s", ErrUnsupportedOS, os)
	}

	tx, err := uc.uow.Begin(ctx)
	if err != nil {
		return InstallationScript{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	svc, err := uc.repos.FetchOne(tx, serviceID)
	if err != nil {
		return InstallationScript{}, fmt.Errorf("fetch service: %w", err)
	}

	newToken, err := generateToken()
	if err != nil {
		return InstallationScript{}, fmt.Errorf("rotate token: %w", err)
	}
	svc.Token = newToken
	if err := uc.repos.Update(tx, svc); err != nil {
		return InstallationScript{}, fmt.Errorf("persist rotated token: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return InstallationScript{}, fmt.Errorf("commit: %w", err)
	}

	content := fmt.Sprintf(linuxInstallScriptTemplate,
		uc.config.downloadBaseURL(svc.Kind),
		uc.config.HeliosBaseURL,
		svc.Token,
	)
	content = strings.ReplaceAll(content, "\r", "")

	uc.log.Info("install script generated, token rotated", "service_id", svc.ID)
	return InstallationScript{
		Content:  content,
		MimeType: "text/x-shellscript",
		FileName: "install_script.sh",
	}, nil
}
