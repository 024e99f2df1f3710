package tgui

import "testing"

func TestMarkdownV2ToHTML(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: "Sales board", want: "Sales board"},
		{name: "escapes html", in: "a < b & c", want: "a &lt; b &amp; c"},
		{name: "bold", in: "*Sales* and **Ops**", want: "<b>Sales</b> and <b>Ops</b>"},
		{name: "italic underline strike", in: "_i_ __u__ ~s~", want: "<i>i</i> <u>u</u> <s>s</s>"},
		{name: "inline code", in: "run `make`", want: "run <code>make</code>"},
		{name: "code block", in: "```x := 1```", want: "<pre><code>x := 1</code></pre>"},
		{name: "link", in: "[docs](https://example.com/a)", want: `<a href="https://example.com/a">docs</a>`},
		{name: "unescapes", in: `v1\.2 \- done\!`, want: "v1.2 - done!"},
		{name: "noformat span", in: "keep %*raw* <x>% here", want: "keep *raw* &lt;x&gt; here"},
		{name: "two noformat spans", in: "%a_b% and %c_d%", want: "a_b and c_d"},
		{name: "escaped markup stays literal", in: `check \_totals\_ and \*x\*`, want: "check _totals_ and *x*"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := MarkdownV2ToHTML(tt.in).String(); got != tt.want {
				t.Fatalf("MarkdownV2ToHTML(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestUnescape(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		`Revenue \(daily\)`: "Revenue (daily)",
		`a\_b\*c`:           "a_b*c",
		`no escapes`:        "no escapes",
		`\\`:                `\\`,
	}
	for in, want := range tests {
		if got := Unescape(in); got != want {
			t.Fatalf("Unescape(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLinkAndJoin(t *testing.T) {
	t.Parallel()
	got := JoinH("\n", B("Board"), "", Link("open", "https://x.test/?a=1&b=2"))
	want := H("<b>Board</b>\n<a href=\"https://x.test/?a=1&amp;b=2\">open</a>")
	if got != want {
		t.Fatalf("JoinH = %q, want %q", got, want)
	}
}
