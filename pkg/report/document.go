package report

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/alitto/pond/v2"
)

const (
	placeholderAbstract   = "<placeholder_abstract>"
	maxConclusionWorkers  = 5
	reportSystemPrompt    = "你是一名能源统计分析师，负责撰写省级能源消费分析报告。只输出要求的正文内容。"
	defaultConclusionText = "%d年能耗数据分析显示能源消费和强度指标有所变化，各行业能源结构存在差异。需要继续关注节能降耗和能源转型发展。"
)

var conclusionPattern = regexp.MustCompile(`<placeholder[^>]*conclusion[^>]*>`)

// FillPlaceholders substitutes year, province and every computed value into
// text. Numbers are written with two decimals.
func FillPlaceholders(text string, v *Values) string {
	pairs := []string{
		"<placeholder_year>", strconv.Itoa(v.Year),
		"<placeholder_prev_year>", strconv.Itoa(v.Year - 1),
		"<placeholder_province>", v.Province,
	}
	for i, val := range v.Values {
		pairs = append(pairs, fmt.Sprintf("<placeholder_val%d>", i+1), strconv.FormatFloat(val, 'f', 2, 64))
	}
	for i, c := range v.Choices {
		pairs = append(pairs, fmt.Sprintf("<placeholder_choices%d>", i+1), c)
	}
	for i, ind := range v.Industries {
		pairs = append(pairs, fmt.Sprintf("<placeholder_industry%d>", i+1), ind)
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

// splitParagraphs splits on blank lines, keeping paragraph text untrimmed.
func splitParagraphs(text string) []string {
	return strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n")
}

type conclusionTask struct {
	index   int
	context string
}

// fillConclusions asks the model for a summary of every paragraph holding a
// conclusion placeholder. Paragraphs are processed concurrently on a pool of
// at most five workers and merged back by index. A paragraph that is only the
// placeholder gets the default conclusion without a model call.
func (g *Generator) fillConclusions(ctx context.Context, paragraphs []string, year int) error {
	var tasks []conclusionTask
	for i, p := range paragraphs {
		if conclusionPattern.MatchString(p) {
			tasks = append(tasks, conclusionTask{
				index:   i,
				context: strings.TrimSpace(conclusionPattern.ReplaceAllString(p, "")),
			})
		}
	}
	if len(tasks) == 0 {
		g.log.Debug("report: no conclusion placeholders")
		return nil
	}

	pool := pond.NewPool(min(maxConclusionWorkers, len(tasks)))
	defer pool.StopAndWait()

	// The group context is cancelled by the first failing task, which aborts
	// the model calls still in flight.
	group := pool.NewGroupContext(ctx)
	gctx := group.Context()
	conclusions := make([]string, len(tasks))
	for i, task := range tasks {
		group.SubmitErr(func() error {
			if task.context == "" {
				conclusions[i] = fmt.Sprintf(defaultConclusionText, year)
				return nil
			}
			conclusion, err := g.cfg.LLM.Complete(gctx, reportSystemPrompt, conclusionPrompt(task.context, year))
			if err != nil {
				return fmt.Errorf("failed to generate conclusion for paragraph %d: %w", task.index+1, err)
			}
			conclusions[i] = strings.TrimSpace(conclusion)
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return err
	}
	for i, task := range tasks {
		// ReplaceAllLiteralString keeps '$' in model output intact.
		paragraphs[task.index] = conclusionPattern.ReplaceAllLiteralString(paragraphs[task.index], conclusions[i])
	}
	g.log.Info("report: conclusions generated", "count", len(tasks))
	return nil
}

// fillAbstract replaces the first abstract placeholder with a model summary
// of the whole document.
func (g *Generator) fillAbstract(ctx context.Context, paragraphs []string, year int, province string) error {
	target := -1
	for i, p := range paragraphs {
		if strings.Contains(p, placeholderAbstract) {
			target = i
			break
		}
	}
	if target < 0 {
		return nil
	}

	var full strings.Builder
	for _, p := range paragraphs {
		if strings.TrimSpace(p) != "" {
			full.WriteString(p)
			full.WriteString("\n\n")
		}
	}

	abstract, err := g.cfg.LLM.Complete(ctx, reportSystemPrompt, abstractPrompt(full.String(), year, province))
	if err != nil {
		return fmt.Errorf("failed to generate abstract: %w", err)
	}
	paragraphs[target] = strings.Replace(paragraphs[target], placeholderAbstract, strings.TrimSpace(abstract), 1)
	return nil
}

func conclusionPrompt(text string, year int) string {
	return fmt.Sprintf("请基于以下内容，生成简洁的总结，必须以'%d年'开头\n\n%s。注意不要重复复述内容中的数据，而应该总结出一些新的观点和见解。", year, text)
}

func abstractPrompt(fullText string, year int, province string) string {
	return fmt.Sprintf(`请基于以下%d年%s能源消费分析报告的全文内容，生成一份有洞察力的摘要。

要求：
1. 摘要应讲清楚报告的核心发现与见解
2. 避免重复原文数据，专注于深度的见解和含义
3. 所有观点必须基于原文内容，但要提出独到的分析
4. 摘要的文字量为100-150字
5. 内容在一个段落内，不要添加其他非段落符号

原文内容：
%s
`, year, province, fullText)
}
