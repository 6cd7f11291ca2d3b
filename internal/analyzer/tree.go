package analyzer

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
)

// maxTreeDepth bounds recursion on pathological input.
const maxTreeDepth = 1000

// Tree is a parsed JavaScript syntax tree.
type Tree struct {
	tree *sitter.Tree
	root *sitter.Node
	src  []byte
}

// Parse builds a syntax tree for src. A tree is returned even when the source
// has syntax errors; see HasError.
func Parse(ctx context.Context, src string) (*Tree, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(javascript.GetLanguage())

	content := []byte(src)
	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("parse javascript: %w", err)
	}
	return &Tree{tree: tree, root: tree.RootNode(), src: content}, nil
}

// HasError reports whether the parser had to recover from a syntax error.
func (t *Tree) HasError() bool {
	return t != nil && t.root != nil && t.root.HasError()
}

// Close releases the parser's tree.
func (t *Tree) Close() {
	if t != nil && t.tree != nil {
		t.tree.Close()
	}
}

func (t *Tree) text(n *sitter.Node) string {
	return n.Content(t.src)
}

// firstError finds the earliest ERROR or MISSING node in document order.
func firstError(n *sitter.Node, depth int) *sitter.Node {
	if n == nil || depth > maxTreeDepth {
		return nil
	}
	if n.IsError() || n.IsMissing() {
		return n
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		if found := firstError(n.Child(i), depth+1); found != nil {
			return found
		}
	}
	return nil
}

func checkSyntax(src *Source) Report {
	var r Report
	if !src.Tree.HasError() {
		return r
	}
	node := firstError(src.Tree.root, 0)
	if node == nil {
		r.Errors = append(r.Errors, "Syntax Error: the script could not be parsed")
		return r
	}
	line := int(node.StartPoint().Row) + 1
	if node.IsMissing() {
		r.Errors = append(r.Errors, fmt.Sprintf("Syntax Error: missing '%s' on line %d", node.Type(), line))
		return r
	}
	token := ""
	if fields := strings.Fields(src.Tree.text(node)); len(fields) > 0 {
		token = fields[0]
	}
	if len(token) > 20 {
		token = token[:20] + "..."
	}
	if token == "" {
		r.Errors = append(r.Errors, fmt.Sprintf("Syntax Error: unexpected end of input on line %d", line))
	} else {
		r.Errors = append(r.Errors, fmt.Sprintf("Syntax Error: unexpected token '%s' on line %d", token, line))
	}
	return r
}

var functionNodes = map[string]bool{
	"function_declaration":           true,
	"function_expression":            true,
	"function":                       true,
	"arrow_function":                 true,
	"method_definition":              true,
	"generator_function_declaration": true,
	"generator_function":             true,
}

var loopNodes = map[string]bool{
	"for_statement":    true,
	"for_in_statement": true,
	"while_statement":  true,
	"do_statement":     true,
}

var enumerationCalls = map[string]bool{
	"getPlayers":                 true,
	"getAllPlayers":              true,
	"getEntities":                true,
	"getEntitiesAtBlockLocation": true,
	"getEntitiesFromRay":         true,
}

// checkStructure walks an error-free tree for patterns the line heuristics
// cannot see.
func checkStructure(src *Source) Report {
	var r Report
	t := src.Tree
	if t == nil || t.root == nil || t.HasError() {
		return r
	}
	var subscribes []*sitter.Node
	unsubscribed := false

	walk(t.root, 0, func(n *sitter.Node) bool {
		switch typ := n.Type(); {
		case typ == "catch_clause":
			param := n.ChildByFieldName("parameter")
			body := n.ChildByFieldName("body")
			if param != nil && param.Type() == "identifier" && body != nil {
				name := t.text(param)
				if !usesIdentifier(t, body, name) {
					r.Warnings = append(r.Warnings, fmt.Sprintf("Line %d: catch parameter '%s' is never used", row(param), name))
				}
			}
		case functionNodes[typ]:
			if isAsync(n) {
				if body := n.ChildByFieldName("body"); body != nil && !containsAwait(body) {
					r.Warnings = append(r.Warnings, fmt.Sprintf("Line %d: async function '%s' never awaits", row(n), functionName(t, n)))
				}
			}
		case loopNodes[typ]:
			if body := n.ChildByFieldName("body"); body != nil {
				walk(body, 0, func(c *sitter.Node) bool {
					if functionNodes[c.Type()] {
						return false
					}
					if name := calledMember(t, c); enumerationCalls[name] {
						r.PerformanceIssues = appendUnique(r.PerformanceIssues,
							fmt.Sprintf("Line %d: loop body calls %s() on every iteration", row(c), name))
					}
					return true
				})
			}
		case typ == "call_expression":
			switch calledMember(t, n) {
			case "subscribe":
				subscribes = append(subscribes, n)
			case "unsubscribe":
				unsubscribed = true
			}
		}
		return true
	})

	if !unsubscribed {
		for _, n := range subscribes {
			r.Warnings = append(r.Warnings, fmt.Sprintf("Line %d: event subscription is never unsubscribed", row(n)))
		}
	}
	return r
}

// walk visits n and its descendants depth first. visit returns false to skip
// a node's children.
func walk(n *sitter.Node, depth int, visit func(*sitter.Node) bool) {
	if n == nil || depth > maxTreeDepth {
		return
	}
	if !visit(n) {
		return
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		walk(n.Child(i), depth+1, visit)
	}
}

func row(n *sitter.Node) int {
	return int(n.StartPoint().Row) + 1
}

// calledMember returns the property name of a call like obj.name(...).
func calledMember(t *Tree, n *sitter.Node) string {
	if n.Type() != "call_expression" {
		return ""
	}
	fn := n.ChildByFieldName("function")
	if fn == nil || fn.Type() != "member_expression" {
		return ""
	}
	prop := fn.ChildByFieldName("property")
	if prop == nil {
		return ""
	}
	return t.text(prop)
}

func isAsync(n *sitter.Node) bool {
	for i := 0; i < int(n.ChildCount()); i++ {
		if n.Child(i).Type() == "async" {
			return true
		}
	}
	return false
}

// containsAwait looks for await in body without entering nested functions.
func containsAwait(body *sitter.Node) bool {
	found := false
	walk(body, 0, func(n *sitter.Node) bool {
		if found {
			return false
		}
		switch typ := n.Type(); {
		case typ == "await_expression":
			found = true
			return false
		case functionNodes[typ]:
			return false
		// for await (... of ...)
		case typ == "await":
			found = true
			return false
		}
		return true
	})
	return found
}

func usesIdentifier(t *Tree, body *sitter.Node, name string) bool {
	used := false
	walk(body, 0, func(n *sitter.Node) bool {
		if used {
			return false
		}
		switch n.Type() {
		case "identifier", "shorthand_property_identifier":
			if t.text(n) == name {
				used = true
			}
		}
		return !used
	})
	return used
}

func functionName(t *Tree, n *sitter.Node) string {
	if name := n.ChildByFieldName("name"); name != nil {
		return t.text(name)
	}
	if p := n.Parent(); p != nil {
		switch p.Type() {
		case "variable_declarator", "assignment_expression", "pair":
			field := "name"
			if p.Type() == "assignment_expression" {
				field = "left"
			} else if p.Type() == "pair" {
				field = "key"
			}
			if name := p.ChildByFieldName(field); name != nil {
				return t.text(name)
			}
		}
	}
	return "anonymous"
}
