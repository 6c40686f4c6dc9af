package parser

import (
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var frontMatterRe = regexp.MustCompile(`(?s)\A---\r?\n(.*?)\r?\n---\r?\n?`)

// FrontMatter holds the YAML header fields quill understands.
type FrontMatter struct {
	Title string   `yaml:"title"`
	Tags  []string `yaml:"tags"`
}

// SplitFrontMatter separates a leading YAML header from the markdown body.
// Documents without a header, or with a header that is not valid YAML, are
// returned unchanged with a zero FrontMatter.
func SplitFrontMatter(content []byte) (FrontMatter, []byte) {
	var fm FrontMatter

	match := frontMatterRe.FindSubmatchIndex(content)
	if match == nil {
		return fm, content
	}

	if err := yaml.Unmarshal(content[match[2]:match[3]], &fm); err != nil {
		return FrontMatter{}, content
	}
	fm.Title = strings.TrimSpace(fm.Title)
	return fm, content[match[1]:]
}

// Title returns the front matter title, else the text of the first level
// one heading, else "".
func Title(content []byte) string {
	fm, body := SplitFrontMatter(content)
	if fm.Title != "" {
		return fm.Title
	}
	return FirstHeading(body)
}

// FirstHeading returns the text of the first line starting with "# ".
func FirstHeading(content []byte) string {
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "# "))
		}
	}
	return ""
}
