package markdown

import (
	"regexp"
	"strings"
)

var (
	quoteBlockRe   = regexp.MustCompile(`(?m)(?:^&gt; .+\n?)+`)
	bulletBlockRe  = regexp.MustCompile(`(?m)(?:^- .+\n?)+`)
	numberBlockRe  = regexp.MustCompile(`(?m)(?:^\d+\. .+\n?)+`)
	numberedItemRe = regexp.MustCompile(`^\d+\. .+`)
	numberPrefixRe = regexp.MustCompile(`^\d+\. `)
	tableBlockRe   = regexp.MustCompile(`(?m)(?:^\|.+\|$\n?)+`)
	separatorRe    = regexp.MustCompile(`^\|[:|-]+\|$`)
	whitespaceRe   = regexp.MustCompile(`\s`)
)

// blockquotes joins consecutive "> " lines into one blockquote.
func blockquotes(s string) string {
	return quoteBlockRe.ReplaceAllStringFunc(s, func(m string) string {
		lines := strings.Split(strings.TrimSpace(m), "\n")
		for i, line := range lines {
			lines[i] = strings.TrimPrefix(line, "&gt; ")
		}
		return "<blockquote>" + strings.Join(lines, "<br>") + "</blockquote>"
	})
}

// mergeNumberedLists drops a single blank line between two numbered items.
func mergeNumberedLists(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for i := 0; i < len(lines); i++ {
		out = append(out, lines[i])
		if i+2 < len(lines) &&
			numberedItemRe.MatchString(lines[i]) &&
			lines[i+1] == "" &&
			numberedItemRe.MatchString(lines[i+2]) {
			i++
		}
	}
	return strings.Join(out, "\n")
}

func lists(s string) string {
	s = bulletBlockRe.ReplaceAllStringFunc(s, func(m string) string {
		return listHTML("ul", m, func(line string) string { return strings.TrimPrefix(line, "- ") })
	})
	return numberBlockRe.ReplaceAllStringFunc(s, func(m string) string {
		return listHTML("ol", m, func(line string) string { return numberPrefixRe.ReplaceAllString(line, "") })
	})
}

func listHTML(tag, block string, strip func(string) string) string {
	var b strings.Builder
	b.WriteString("<" + tag + ">")
	for _, line := range strings.Split(strings.TrimSpace(block), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		b.WriteString("<li>" + strip(line) + "</li>")
	}
	b.WriteString("</" + tag + ">")
	return b.String()
}

// tables converts pipe tables whose second row is a valid separator. Anything
// else is left as it was.
func tables(s string) string {
	return tableBlockRe.ReplaceAllStringFunc(s, func(block string) string {
		var rows []string
		for _, r := range strings.Split(strings.TrimSpace(block), "\n") {
			if strings.TrimSpace(r) != "" {
				rows = append(rows, r)
			}
		}
		if len(rows) < 2 || !validSeparator(rows[1]) {
			return block
		}

		var b strings.Builder
		b.WriteString(`<div class="table-scroll"><table><thead><tr>`)
		for _, h := range splitRow(rows[0]) {
			b.WriteString(`<th scope="col">` + h + `</th>`)
		}
		b.WriteString(`</tr></thead><tbody>`)
		for _, row := range rows[2:] {
			b.WriteString("<tr>")
			for _, c := range splitRow(row) {
				b.WriteString("<td>" + c + "</td>")
			}
			b.WriteString("</tr>")
		}
		b.WriteString(`</tbody></table></div>`)
		return b.String()
	})
}

func validSeparator(row string) bool {
	if !separatorRe.MatchString(whitespaceRe.ReplaceAllString(row, "")) {
		return false
	}
	for _, cell := range strings.Split(trimPipes(row), "|") {
		if !strings.Contains(strings.ReplaceAll(strings.TrimSpace(cell), ":", ""), "-") {
			return false
		}
	}
	return true
}

func splitRow(row string) []string {
	cells := strings.Split(trimPipes(row), "|")
	for i, c := range cells {
		cells[i] = strings.TrimSpace(c)
	}
	return cells
}

func trimPipes(row string) string {
	return strings.TrimSuffix(strings.TrimPrefix(row, "|"), "|")
}
