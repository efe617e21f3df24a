package constants

// Redis Key 前缀和格式常量
// 使用统一的命名规范: app:{module}:{entity}:{unique_id}
const (
	// AppPrefix 是所有Redis Key的统一应用前缀
	AppPrefix = "app"

	// WorkflowModulePrefix 工作流模块
	WorkflowModulePrefix = "workflow"

	// EntityCollection 记录集合实体
	EntityCollection = "collection"
	// EntityLock 分布式锁实体
	EntityLock = "lock"

	// KeyCollection 记录集合 (HASH: data, version)
	// 格式: app:workflow:collection:{name}
	KeyCollection = AppPrefix + ":" + WorkflowModulePrefix + ":" + EntityCollection + ":%s"

	// KeyEscalationSweepLock 提醒扫描分布式锁 (STRING)
	// 格式: app:workflow:lock:escalation_sweep
	KeyEscalationSweepLock = AppPrefix + ":" + WorkflowModulePrefix + ":" + EntityLock + ":escalation_sweep"
)
