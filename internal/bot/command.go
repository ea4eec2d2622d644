package bot

import "strings"

// Command names understood by the router.
const (
	cmdPersona   = "persona"
	cmdRemember  = "remember"
	cmdForget    = "forget"
	cmdImg       = "img"
	cmdEdit      = "edit"
	cmdTodo      = "todo"
	cmdDone      = "done"
	cmdNews      = "news"
	cmdSearch    = "search"
	cmdWeather   = "weather"
	cmdQuote     = "quote"
	cmdGold      = "gold"
	cmdSummarize = "summarize"
	cmdHelp      = "help"
	cmdStart     = "start"
)

var knownCommands = map[string]bool{
	cmdPersona: true, cmdRemember: true, cmdForget: true, cmdImg: true, cmdEdit: true,
	cmdTodo: true, cmdDone: true, cmdNews: true, cmdSearch: true, cmdWeather: true,
	cmdQuote: true, cmdGold: true, cmdSummarize: true, cmdHelp: true, cmdStart: true,
}

const editPrefix = `\edit`

type command struct {
	name string
	arg  string
}

// parseCommand splits "/name@bot arg" or "\edit arg". Text that is not a
// known command reports false and goes to the conversation.
func parseCommand(text string) (command, bool) {
	text = strings.TrimSpace(text)
	if rest, ok := strings.CutPrefix(text, editPrefix); ok {
		if rest == "" || strings.ContainsRune(" \t\n", rune(rest[0])) {
			return command{name: cmdEdit, arg: strings.TrimSpace(rest)}, true
		}
		return command{}, false
	}
	if !strings.HasPrefix(text, "/") {
		return command{}, false
	}
	head, arg := text[1:], ""
	if i := strings.IndexAny(head, " \t\n"); i >= 0 {
		head, arg = head[:i], head[i+1:]
	}
	name, _, _ := strings.Cut(head, "@")
	name = strings.ToLower(name)
	if !knownCommands[name] {
		return command{}, false
	}
	return command{name: name, arg: strings.TrimSpace(arg)}, true
}

const helpText = `可用指令：
/persona <设定> 修改人格
/remember <内容> 写入长期记忆
/forget 清空对话记忆
/img <描述> 生成图片
先发图片，再发 \edit <要求> 编辑图片
/todo [内容|clear] 任务列表
/done <编号> 完成任务
/news 过去 24 小时新闻摘要
/search <关键词> 搜索
/weather 巴黎天气
/quote <代码> 股票行情
/gold 黄金现货
/summarize <链接> 网页摘要
其他文字直接和我聊天。`
