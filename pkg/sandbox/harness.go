package sandbox

import (
	"fmt"
	"strings"
)

// renderHarness builds the single program a batch run executes: the user code
// is evaluated once, then every test case assertion runs against the
// resulting environment inside its own recover block, so one failing test
// never aborts the others. The harness prints the collected results as a
// JSON array on the last line of stdout.
func renderHarness(language Language, source string, testcases []TestCase) (string, error) {
	switch language {
	case LanguageJS:
		return renderJSHarness(source, testcases), nil
	case LanguagePython:
		return renderPythonHarness(source, testcases), nil
	default:
		return "", fmt.Errorf("no harness for language %q", language)
	}
}

func renderJSHarness(source string, testcases []TestCase) string {
	var b strings.Builder

	b.WriteString("const assert = require('assert');\n")
	b.WriteString("const __results = [];\n")
	b.WriteString(source)
	b.WriteString("\n")

	for _, tc := range testcases {
		fmt.Fprintf(&b, `try {
    %s
    __results.push({ id: %d, passed: true });
} catch (e) {
    __results.push({ id: %d, passed: false, error: String(e && e.message ? e.message : e) });
}
`, tc.Code, tc.ID, tc.ID)
	}

	b.WriteString("console.log(JSON.stringify(__results));\n")
	return b.String()
}

func renderPythonHarness(source string, testcases []TestCase) string {
	var b strings.Builder

	b.WriteString("import json\n\n")
	b.WriteString(source)
	b.WriteString("\n\n__results = []\n")

	for _, tc := range testcases {
		assertion := strings.ReplaceAll(tc.Code, "\n", "\n    ")
		fmt.Fprintf(&b, `try:
    %s
    __results.append({"id": %d, "passed": True})
except Exception as e:
    __results.append({"id": %d, "passed": False, "error": str(e)})
`, assertion, tc.ID, tc.ID)
	}

	b.WriteString("print(json.dumps(__results))\n")
	return b.String()
}
