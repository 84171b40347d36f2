package sandbox

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileAcceptsBlockScripts(t *testing.T) {
	tests := []struct {
		name   string
		source string
	}{
		{name: "motion sequence", source: "motion.qianjin(50)\ndengdai(1)\nmotion.tingzhi()\n"},
		{name: "counted loop", source: "for _ in range(4):\n    qianjin(40)\n    dengdai(0.5)\n    xuanzhuan(30)\n"},
		{name: "sensor conditional", source: "if sensor.heshengbo() < 200:\n    tingzhi()\nelse:\n    qianjin()\n"},
		{name: "while loop", source: "n = 0\nwhile n < 3:\n    n += 1\nprint(n)\n"},
		{name: "procedure", source: "def patrol(speed):\n    qianjin(speed)\n    tingzhi()\n\npatrol(30)\n"},
		{name: "semicolons", source: "forward(50); stop()"},
		{name: "unicode alias", source: "前进(50)\n停止()\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			unit, err := Compile(tt.source, CompileOptions{})
			require.NoError(t, err)
			assert.False(t, unit.Empty())
			assert.Len(t, unit.Digest(), 64)
		})
	}
}

func TestCompileRejects(t *testing.T) {
	tests := []struct {
		name       string
		source     string
		wantReason string
		wantLine   int
		wantCol    int
	}{
		{name: "import statement", source: "import os\n", wantLine: 1},
		{name: "from import", source: "from os import system\n", wantLine: 1},
		{name: "class definition", source: "class A:\n    pass\n", wantLine: 1},
		{name: "try block", source: "try:\n    x = 1\nexcept:\n    pass\n", wantLine: 1},
		{name: "load statement", source: `load("lib.star", "helper")`, wantReason: "load statements", wantLine: 1},
		{name: "dunder attribute", source: "x = 1\ny = x.__class__\n", wantReason: "__class__", wantLine: 2, wantCol: 7},
		{name: "private attribute", source: "motion._driver\n", wantReason: "_driver", wantLine: 1, wantCol: 8},
		{name: "open", source: "f = open('/etc/passwd')\n", wantReason: `"open"`, wantLine: 1},
		{name: "eval", source: "eval('1+1')\n", wantReason: `"eval"`, wantLine: 1},
		{name: "getattr", source: "getattr(motion, 'qianjin')\n", wantReason: `"getattr"`, wantLine: 1},
		{name: "dunder import", source: "__import__('os')\n", wantReason: "__import__", wantLine: 1},
		{name: "nested forbidden", source: "def f():\n    return dir()\n", wantReason: `"dir"`, wantLine: 2},
		{name: "syntax error", source: "qianjin(50\n"},
		{name: "return outside function", source: "return 1\n", wantLine: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			unit, err := Compile(tt.source, CompileOptions{})
			require.Error(t, err)
			assert.Nil(t, unit)

			var ce *CompileError
			require.True(t, errors.As(err, &ce), "want *CompileError, got %T", err)
			assert.Equal(t, KindCompile, KindOf(err))
			assert.NotEmpty(t, ce.Reason)
			if tt.wantReason != "" {
				assert.Contains(t, ce.Reason, tt.wantReason)
			}
			if tt.wantLine > 0 {
				assert.Equal(t, tt.wantLine, ce.Line)
			}
			if tt.wantCol > 0 {
				assert.Equal(t, tt.wantCol, ce.Col)
			}
		})
	}
}

func TestCompileAllowsShadowingAndKeywords(t *testing.T) {
	// A global named like a forbidden builtin is just a variable.
	_, err := Compile("type = 3\nprint(type)\n", CompileOptions{})
	require.NoError(t, err)

	// Keyword argument names are not references.
	_, err = Compile("print('a', sep=', ')\n", CompileOptions{})
	require.NoError(t, err)
}

func TestCompileSourceLimit(t *testing.T) {
	src := strings.Repeat("x = 1\n", 100)
	_, err := Compile(src, CompileOptions{MaxSourceBytes: 64})
	var ce *CompileError
	require.True(t, errors.As(err, &ce))
	assert.Contains(t, ce.Reason, "limit")
	assert.Zero(t, ce.Line)

	_, err = Compile(src, CompileOptions{MaxSourceBytes: len(src)})
	assert.NoError(t, err)
}

func TestCompileEmpty(t *testing.T) {
	for _, src := range []string{"", "\n\n", "# nothing to do\n"} {
		unit, err := Compile(src, CompileOptions{})
		require.NoError(t, err)
		assert.True(t, unit.Empty(), "%q", src)
		assert.Empty(t, unit.FreeNames())
	}
}

func TestCompileUndefinedNameIsNotACompileError(t *testing.T) {
	unit, err := Compile("fly_away(100)\n", CompileOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"fly_away"}, unit.FreeNames())
}

func TestCompileFreeNames(t *testing.T) {
	unit, err := Compile("x = len([1, 2])\nqianjin(x)\nprint(motion.tingzhi)\n", CompileOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"len", "motion", "print", "qianjin"}, unit.FreeNames())
}

func TestCompileDigestIsContentAddressed(t *testing.T) {
	a, err := Compile("qianjin(50)", CompileOptions{})
	require.NoError(t, err)
	b, err := Compile("qianjin(50)", CompileOptions{})
	require.NoError(t, err)
	c, err := Compile("qianjin(51)", CompileOptions{})
	require.NoError(t, err)

	assert.Equal(t, a.Digest(), b.Digest())
	assert.NotEqual(t, a.Digest(), c.Digest())
}

func TestUnitRunsOnce(t *testing.T) {
	unit, err := Compile("x = 1", CompileOptions{})
	require.NoError(t, err)
	require.NoError(t, unit.claim())
	assert.Error(t, unit.claim())
}
