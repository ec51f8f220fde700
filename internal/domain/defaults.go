package domain

// Дефолтный набор прав и действий сессии. Референсная модель не выводит их
// из манифеста агента — продакшен-система обязана; см. DESIGN.md.

// Параметры песочницы, общие для всех сессий.
const (
	SandboxImage      = "registry.opencontrol.dev/agent-sandbox:1"
	SandboxWorkDir    = "/workspace"
	SandboxEntrypoint = "/opt/opencontrol/bootstrap"
)

// Имена переменных окружения, которые провижининг инъектирует в песочницу.
const (
	EnvOrgID        = "OC_ORG_ID"
	EnvWorkspaceID  = "OC_WORKSPACE_ID"
	EnvSessionID    = "OC_SESSION_ID"
	EnvAgentID      = "OC_AGENT_ID"
	EnvAPIURL       = "OC_API_URL"
	EnvSessionToken = "OC_SESSION_TOKEN"
)

// SandboxEnvNames возвращает свежий слайс, чтобы вызывающие не шарили массив.
func SandboxEnvNames() []string {
	return []string{EnvOrgID, EnvWorkspaceID, EnvSessionID, EnvAgentID, EnvAPIURL, EnvSessionToken}
}

// DefaultPermissions — фиксированный набор грантов новой сессии.
func DefaultPermissions() []PermissionGrant {
	return []PermissionGrant{
		{Permission: "fs:read:workspace/*", Mode: ApprovalAuto, Delegatable: true},
		{Permission: "fs:write:workspace/*", Mode: ApprovalAuto, Delegatable: false},
		{Permission: "net:fetch:*", Mode: ApprovalApprove, Delegatable: false},
		{Permission: "github:comment:*", Mode: ApprovalApprove, Delegatable: false},
	}
}

// DefaultActions — имена действий, доступных агенту по умолчанию.
func DefaultActions() []string {
	return []string{"read_file", "write_file", "run_command", "fetch_url", "post_comment"}
}
