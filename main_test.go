package main

import (
	"strings"
	"testing"
)

func TestRunCheckConfigSuccess(t *testing.T) {
	useBufferWriters(t)
	code := run([]string{"--config", configFixture(t, "valid.toml"), "--check-config"})
	if code != 0 {
		t.Fatalf("期望退出码 0，得到 %d (stderr=%s)", code, stdErrBuffer().String())
	}
}

func TestRunCheckConfigFailure(t *testing.T) {
	useBufferWriters(t)
	code := run([]string{"--config", configFixture(t, "missing.toml"), "--check-config"})
	if code != 1 {
		t.Fatalf("无效配置应返回退出码 1，得到 %d", code)
	}
	if stdErrBuffer().Len() == 0 {
		t.Fatalf("失败原因应输出到 stderr")
	}
}

func TestRunConfigEnvPriority(t *testing.T) {
	useBufferWriters(t)
	t.Setenv("MODKIT_CONFIG", configFixture(t, "missing.toml"))

	if code := run([]string{"--check-config"}); code != 1 {
		t.Fatalf("应读取环境变量指定的配置，得到 %d", code)
	}
	if code := run([]string{"--config", configFixture(t, "valid.toml"), "--check-config"}); code != 0 {
		t.Fatalf("flag 应高于环境变量，得到 %d", code)
	}
}

func TestRunVersionOutput(t *testing.T) {
	useBufferWriters(t)
	code := run([]string{"--version"})
	if code != 0 {
		t.Fatalf("version 模式应成功退出，得到 %d", code)
	}
	if !strings.Contains(stdOutBuffer().String(), "modkit") {
		t.Fatalf("version 输出应包含 modkit 标识")
	}
}

func TestRunUnknownFlag(t *testing.T) {
	useBufferWriters(t)
	if code := run([]string{"--no-such-flag"}); code != 2 {
		t.Fatalf("未知参数应返回退出码 2，得到 %d", code)
	}
}
