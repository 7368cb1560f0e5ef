package version

import "fmt"

// 构建时通过 -ldflags "-X github.com/modkit/modkit/internal/version.Version=..." 注入。
var (
	Version   = "0.1.0"
	Commit    = "dev"
	BuildDate = ""
)

// Full 返回 --version 打印的完整版本信息。
func Full() string {
	if BuildDate == "" {
		return fmt.Sprintf("modkit %s (%s)", Version, Commit)
	}
	return fmt.Sprintf("modkit %s (%s, built %s)", Version, Commit, BuildDate)
}
