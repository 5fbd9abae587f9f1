package pipeline

import (
	"fmt"
	"strings"
)

var analysisSystemPrompts = map[string]string{
	"zh": "你是一名严谨的学术助理。请用简体中文阅读论文全文，输出结构化的 Markdown 解读：研究问题、方法、关键结果、局限与意义。不要编造论文中没有的内容。",
	"en": "You are a precise academic assistant. Read the full paper and write a structured Markdown explainer in English covering the research problem, method, key results, limitations and significance. Do not invent content that is not in the paper.",
}

var captionSystemPrompts = map[string]string{
	"zh": "你是一名学术图表解读助手。请用简体中文为给定的论文插图写一段简洁的说明（2-4 句），说明图中展示了什么以及它支持的结论。",
	"en": "You are an assistant that explains figures from academic papers. Write a concise caption in English (2-4 sentences) describing what the figure shows and which claim it supports.",
}

var captionUserPrompts = map[string]string{
	"zh": "请解读这张来自论文《%s》的插图。",
	"en": "Explain this figure from the paper \"%s\".",
}

var oneLinerSystemPrompts = map[string]string{
	"zh": "你是一名学术编辑。请【必须用中文】用一句话总结论文：只输出一句话，不要编号，不要前缀，20~35 个汉字左右，信息密度高，尽量包含问题、方法、贡献中的至少两项。",
	"en": "You are an academic editor. Summarize the paper in exactly ONE English sentence of about 15-25 words: no prefix, no numbering, high information density, covering at least two of problem, method and contribution.",
}

func oneLinerPrompts(lang, title, abstract string) (string, string) {
	system := oneLinerSystemPrompts[lang]
	if system == "" {
		system = oneLinerSystemPrompts["en"]
	}
	user := fmt.Sprintf("Title: %s\nAbstract: %s", strings.TrimSpace(title), strings.TrimSpace(abstract))
	if lang == "zh" {
		user = fmt.Sprintf("标题：%s\n摘要：%s", strings.TrimSpace(title), strings.TrimSpace(abstract))
	}
	return system, user
}

func analysisPrompts(lang, title, text string) (string, string) {
	system := analysisSystemPrompts[lang]
	if system == "" {
		system = analysisSystemPrompts["en"]
	}
	user := fmt.Sprintf("Title: %s\n\nFull text (markdown):\n\n%s", strings.TrimSpace(title), text)
	return system, user
}

func captionPrompts(lang, title string) (string, string) {
	system, user := captionSystemPrompts[lang], captionUserPrompts[lang]
	if system == "" {
		system, user = captionSystemPrompts["en"], captionUserPrompts["en"]
	}
	return system, fmt.Sprintf(user, strings.TrimSpace(title))
}

// imageAngles is the rotation of illustration subjects; position i uses
// imageAngles[i mod len].
var imageAngles = []string{
	"the core problem the paper addresses",
	"the proposed method as an intuitive visual metaphor",
	"the key results and what they change",
	"the overall pipeline from input to output",
	"a real-world application enabled by the work",
	"the main limitation or open question",
}

const imageNegativePrompt = "text, letters, watermark, logo, low quality, blurry, distorted"

// imagePrompt builds the synthesis prompt for one illustration position.
func imagePrompt(lang, title, analysis string, position int) string {
	angle := imageAngles[position%len(imageAngles)]
	excerpt := []rune(strings.TrimSpace(analysis))
	if len(excerpt) > 600 {
		excerpt = excerpt[:600]
	}
	style := "clean editorial illustration, flat vector style, soft colours, no text"
	if lang == "zh" {
		style += ", suitable for a Chinese-language science explainer"
	}
	return fmt.Sprintf("Illustrate %s for the paper \"%s\". Context: %s. Style: %s.",
		angle, strings.TrimSpace(title), string(excerpt), style)
}
