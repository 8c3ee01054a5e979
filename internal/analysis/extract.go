package analysis

import (
	"bytes"
	"strings"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// The goldmark parser is stateless between Parse calls and safe to share.
var (
	markdownParser     goldmark.Markdown
	markdownParserOnce sync.Once
)

func getMarkdownParser() goldmark.Markdown {
	markdownParserOnce.Do(func() {
		markdownParser = goldmark.New()
	})
	return markdownParser
}

// codeBlock is one fenced block. start and end bound the block including its
// fence lines; both are -1 when the block has no locatable content.
type codeBlock struct {
	language string
	code     string
	start    int
	end      int
}

// ExtractCode returns the body of the first fenced block tagged python or py,
// else the first fenced block of any language, else "".
func ExtractCode(markdown string) string {
	block, ok := pickBlock([]byte(markdown))
	if !ok {
		return ""
	}
	return block.code
}

// SplitResponse separates a model response into the chosen code block and the
// surrounding prose.
func SplitResponse(markdown string) (code, explanation string) {
	src := []byte(markdown)
	block, ok := pickBlock(src)
	if !ok {
		return "", strings.TrimSpace(markdown)
	}
	if block.start < 0 {
		return block.code, strings.TrimSpace(markdown)
	}
	var rest bytes.Buffer
	rest.Write(src[:block.start])
	rest.Write(src[block.end:])
	return block.code, strings.TrimSpace(rest.String())
}

func pickBlock(src []byte) (codeBlock, bool) {
	blocks := fencedBlocks(src)
	if len(blocks) == 0 {
		return codeBlock{}, false
	}
	for _, b := range blocks {
		switch strings.ToLower(b.language) {
		case "python", "py", "python3":
			return b, true
		}
	}
	return blocks[0], true
}

func fencedBlocks(src []byte) []codeBlock {
	doc := getMarkdownParser().Parser().Parse(text.NewReader(src))

	var blocks []codeBlock
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering || n.Kind() != ast.KindFencedCodeBlock {
			return ast.WalkContinue, nil
		}
		fcb := n.(*ast.FencedCodeBlock)
		blocks = append(blocks, newCodeBlock(fcb, src))
		return ast.WalkSkipChildren, nil
	})
	return blocks
}

func newCodeBlock(fcb *ast.FencedCodeBlock, src []byte) codeBlock {
	var code strings.Builder
	lines := fcb.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		code.Write(seg.Value(src))
	}

	b := codeBlock{
		language: string(fcb.Language(src)),
		code:     strings.TrimRight(strings.TrimLeft(code.String(), "\r\n"), " \t\r\n"),
		start:    -1,
		end:      -1,
	}

	// The opening fence is the line holding the info string, or the line
	// before the first content line.
	var anchor int
	switch {
	case fcb.Info != nil:
		anchor = fcb.Info.Segment.Start
	case lines.Len() > 0:
		anchor = lines.At(0).Start - 1
	default:
		return b
	}
	if anchor < 0 {
		return b
	}
	b.start = bytes.LastIndexByte(src[:anchor], '\n') + 1

	// The closing fence, if any, is the line after the last content line.
	after := b.start
	if lines.Len() > 0 {
		after = lines.At(lines.Len() - 1).Stop
	} else if nl := bytes.IndexByte(src[after:], '\n'); nl >= 0 {
		after += nl + 1
	} else {
		after = len(src)
	}
	if nl := bytes.IndexByte(src[after:], '\n'); nl >= 0 {
		b.end = after + nl + 1
	} else {
		b.end = len(src)
	}
	return b
}
