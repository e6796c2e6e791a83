package prompt

import (
	"fmt"
	"strings"

	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/config"
)

// languageNames is the order the directive lists the supported languages in.
var languageNames = []struct {
	lang config.Language
	name string
}{
	{config.LangKorean, "Korean (한국어)"},
	{config.LangEnglish, "English"},
	{config.LangJapanese, "Japanese (日本語)"},
	{config.LangHybrid, "Hybrid: narrative in English, quoted dialogue kept verbatim in its original language"},
}

func languageName(l config.Language) string {
	for _, n := range languageNames {
		if n.lang == l {
			return n.name
		}
	}
	return "English"
}

// Unknown returns the localized placeholder for a continuity field with no
// known value.
func Unknown(l config.Language) string {
	switch l {
	case config.LangKorean:
		return "알 수 없음"
	case config.LangJapanese:
		return "不明"
	default:
		return "unknown"
	}
}

// placeholderValues are continuity values that carry no information.
var placeholderValues = map[string]bool{
	"unknown": true, "n/a": true, "none": true, "-": true,
	"same": true, "unchanged": true, "same as before": true,
	"알 수 없음": true, "불명": true, "동일": true, "같음": true, "변화 없음": true,
	"不明": true, "同じ": true, "変わらず": true, "変化なし": true,
}

func isPlaceholder(v string) bool {
	v = strings.ToLower(strings.TrimSpace(strings.Trim(v, ".。()（）")))
	return v == "" || placeholderValues[v]
}

// languageDirective renders the opening language block.
func languageDirective(l config.Language) string {
	var sb strings.Builder
	sb.WriteString("## Output Language\n")
	sb.WriteString("Supported summary languages:\n")
	for _, n := range languageNames {
		mark := " "
		if n.lang == l {
			mark = "x"
		}
		fmt.Fprintf(&sb, "- [%s] %s (%s)\n", mark, n.name, n.lang)
	}
	fmt.Fprintf(&sb, "Write every summary line in: %s.", languageName(l))
	if l == config.LangHybrid {
		sb.WriteString(" Do not translate text inside quotation marks.")
	}
	return sb.String()
}

// languageReminder is the closing line of every prompt.
func languageReminder(l config.Language) string {
	switch l {
	case config.LangKorean:
		return "REMINDER: 모든 요약은 반드시 한국어로 작성하세요. Write the summaries in Korean."
	case config.LangJapanese:
		return "REMINDER: すべての要約を日本語で書いてください。Write the summaries in Japanese."
	case config.LangHybrid:
		return "REMINDER: narrate in English and keep quoted dialogue exactly as written."
	default:
		return "REMINDER: write the summaries in English."
	}
}
