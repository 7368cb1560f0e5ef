package commandgroup

// 分组名。
const (
	GroupMake       = "make"
	GroupDatabase   = "database"
	GroupPublishing = "publishing"
)

// 由本仓库直接实现的核心命令，始终注册。
const (
	TokenMake       = "module:make"
	TokenList       = "module:list"
	TokenEnable     = "module:enable"
	TokenDisable    = "module:disable"
	TokenUse        = "module:use"
	TokenUnuse      = "module:unuse"
	TokenStatus     = "module:status"
	TokenDelete     = "module:delete"
	TokenReset      = "module:reset"
	TokenBulk       = "module:bulk"
	TokenCacheClear = "module:cache-clear"
	TokenServe      = "module:serve"
	TokenResolve    = "module:resolve"
)

// DefaultTable 返回内置命令目录，每次调用都返回新副本。
func DefaultTable() Table {
	return Table{
		Essential: []string{
			TokenMake,
			TokenList,
			TokenEnable,
			TokenDisable,
			TokenUse,
			TokenUnuse,
			TokenStatus,
			TokenDelete,
			TokenReset,
			TokenBulk,
			TokenCacheClear,
			TokenServe,
			TokenResolve,
		},
		Groups: []Group{
			{
				Name: GroupMake,
				Members: []string{
					"module:make-controller",
					"module:make-model",
					"module:make-migration",
					"module:make-seeder",
					"module:make-factory",
					"module:make-provider",
					"module:make-middleware",
					"module:make-mail",
					"module:make-notification",
					"module:make-listener",
					"module:make-request",
					"module:make-event",
					"module:make-job",
					"module:make-policy",
					"module:make-observer",
					"module:make-rule",
					"module:make-resource",
					"module:make-test",
					"module:make-component",
				},
			},
			{
				Name: GroupDatabase,
				Members: []string{
					"module:migrate",
					"module:migrate-rollback",
					"module:migrate-refresh",
					"module:migrate-reset",
					"module:migrate-status",
					"module:seed",
				},
			},
			{
				Name: GroupPublishing,
				Members: []string{
					"module:publish",
					"module:publish-migration",
					"module:publish-config",
					"module:publish-translation",
				},
			},
		},
		Markers: []Marker{
			{Substring: "make", Group: GroupMake},
			{Substring: "migrate", Group: GroupDatabase},
			{Substring: "seed", Group: GroupDatabase},
			{Substring: "publish", Group: GroupPublishing},
		},
	}
}
