package modules

import (
	"regexp"
	"strings"
)

// scanSource performs a lexical, line-oriented scan of a module's top
// level for the six import/export forms named by the loading
// algorithm. It does not build a full AST: only the fixed, small
// grammar subset of import/export declarations is recognized, which is
// sufficient to populate a ModuleRecord's Imports/Exports and build the
// dependency graph without requiring the engine to expose one.
//
// Limitations: statements are expected one per logical line (the
// common case after running the source through a formatter, and the
// case every example in spec.md's test vectors uses); a multi-line
// import/export statement is not recognized. Comments are stripped
// first so a commented-out import does not create a phantom edge; a
// "//" right after ':' (as in an http(s) URL specifier) is kept.
func scanSource(source string) (imports []Import, exports []Export) {
	for _, line := range strings.Split(stripComments(source), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if imp, ok := scanImportLine(line); ok {
			imports = append(imports, imp)
			continue
		}
		exports = append(exports, scanExportLine(line)...)
	}
	return imports, exports
}

var (
	reLineComment  = regexp.MustCompile(`(?m)(^|[^:])//.*`)
	reBlockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
)

func stripComments(source string) string {
	source = reBlockComment.ReplaceAllString(source, "")
	source = reLineComment.ReplaceAllString(source, "$1")
	return source
}

const ident = `[A-Za-z_$][A-Za-z0-9_$]*`

var (
	reImportSideEffect         = regexp.MustCompile(`^import\s+['"]([^'"]+)['"]\s*;?\s*$`)
	reImportDefaultAndNamed    = regexp.MustCompile(`^import\s+(` + ident + `)\s*,\s*\{([^}]*)\}\s+from\s+['"]([^'"]+)['"]`)
	reImportDefaultAndNS       = regexp.MustCompile(`^import\s+(` + ident + `)\s*,\s*\*\s+as\s+(` + ident + `)\s+from\s+['"]([^'"]+)['"]`)
	reImportNamespace          = regexp.MustCompile(`^import\s+\*\s+as\s+(` + ident + `)\s+from\s+['"]([^'"]+)['"]`)
	reImportNamed              = regexp.MustCompile(`^import\s+\{([^}]*)\}\s+from\s+['"]([^'"]+)['"]`)
	reImportDefaultOnly        = regexp.MustCompile(`^import\s+(` + ident + `)\s+from\s+['"]([^'"]+)['"]`)
	reImportTypeOnly           = regexp.MustCompile(`^import\s+type\s`)

	reExportStarFrom  = regexp.MustCompile(`^export\s+\*\s+from\s+['"]([^'"]+)['"]`)
	reExportStarAsFrom = regexp.MustCompile(`^export\s+\*\s+as\s+(` + ident + `)\s+from\s+['"]([^'"]+)['"]`)
	reExportDefault   = regexp.MustCompile(`^export\s+default\b`)
	reExportNamedFrom = regexp.MustCompile(`^export\s+\{([^}]*)\}\s+from\s+['"]([^'"]+)['"]`)
	reExportNamed     = regexp.MustCompile(`^export\s+\{([^}]*)\}`)
	reExportDecl      = regexp.MustCompile(`^export\s+(?:const|let|var)\s+(.+?);?\s*$`)
	reExportFunc      = regexp.MustCompile(`^export\s+(?:async\s+)?function\s*\*?\s*(` + ident + `)`)
	reExportClass     = regexp.MustCompile(`^export\s+class\s+(` + ident + `)`)
)

func scanImportLine(line string) (Import, bool) {
	if reImportTypeOnly.MatchString(line) {
		return Import{}, false
	}
	if m := reImportDefaultAndNamed.FindStringSubmatch(line); m != nil {
		return Import{Specifier: m[3], DefaultLocal: m[1], NamedNames: namedLocals(m[2])}, true
	}
	if m := reImportDefaultAndNS.FindStringSubmatch(line); m != nil {
		return Import{Specifier: m[3], DefaultLocal: m[1], NamespaceLocal: m[2]}, true
	}
	if m := reImportNamespace.FindStringSubmatch(line); m != nil {
		return Import{Specifier: m[2], NamespaceLocal: m[1]}, true
	}
	if m := reImportNamed.FindStringSubmatch(line); m != nil {
		return Import{Specifier: m[2], NamedNames: namedLocals(m[1])}, true
	}
	if m := reImportDefaultOnly.FindStringSubmatch(line); m != nil {
		return Import{Specifier: m[2], DefaultLocal: m[1]}, true
	}
	if m := reImportSideEffect.FindStringSubmatch(line); m != nil {
		return Import{Specifier: m[1]}, true
	}
	return Import{}, false
}

func scanExportLine(line string) []Export {
	if m := reExportStarAsFrom.FindStringSubmatch(line); m != nil {
		name := m[1]
		src := m[2]
		return []Export{{Name: &name, IsReexport: true, SourceModule: &src}}
	}
	if m := reExportStarFrom.FindStringSubmatch(line); m != nil {
		star := "*"
		src := m[1]
		return []Export{{Name: &star, IsReexport: true, SourceModule: &src}}
	}
	if reExportDefault.MatchString(line) {
		return []Export{{Name: nil, IsReexport: false}}
	}
	if m := reExportNamedFrom.FindStringSubmatch(line); m != nil {
		src := m[2]
		return exportSpecifiers(m[1], true, &src)
	}
	if m := reExportNamed.FindStringSubmatch(line); m != nil {
		return exportSpecifiers(m[1], false, nil)
	}
	if m := reExportDecl.FindStringSubmatch(line); m != nil {
		return declExports(m[1])
	}
	if m := reExportFunc.FindStringSubmatch(line); m != nil {
		name := m[1]
		return []Export{{Name: &name}}
	}
	if m := reExportClass.FindStringSubmatch(line); m != nil {
		name := m[1]
		return []Export{{Name: &name}}
	}
	return nil
}

// namedLocals parses a `{ a, b as c }` clause into the local binding
// names a script uses to refer to each imported name.
func namedLocals(clause string) []string {
	var out []string
	for _, part := range strings.Split(clause, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Fields(strings.ReplaceAll(part, " as ", " "))
		if len(fields) == 0 {
			continue
		}
		out = append(out, fields[len(fields)-1])
	}
	return out
}

// exportSpecifiers parses a `{ a, b as c }` clause into one Export per
// entry. For `export { a as b } from "src"` b is the exported name and
// a is SourceName (the binding in the source module); for a plain
// local `export { a, b }` each entry exports its own name.
func exportSpecifiers(clause string, isReexport bool, source *string) []Export {
	var out []Export
	for _, part := range strings.Split(clause, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		var local, exported string
		if idx := strings.Index(part, " as "); idx >= 0 {
			local = strings.TrimSpace(part[:idx])
			exported = strings.TrimSpace(part[idx+4:])
		} else {
			local = part
			exported = part
		}
		e := Export{Name: strPtr(exported), IsReexport: isReexport}
		if isReexport {
			e.SourceModule = source
			e.SourceName = strPtr(local)
		}
		out = append(out, e)
	}
	return out
}

// declExports parses the binding list of `export const|let|var a = 1,
// b = 2` (or a single `function`/`class` name already handled
// elsewhere) into one Export per declared name. A comma inside a
// nested initializer (e.g. `export const a = f(1, 2)`) is
// indistinguishable from a second binding at this lexical level and
// will be misread as one; the common single-binding and flat
// multi-binding forms are handled correctly.
func declExports(bindingList string) []Export {
	var out []Export
	for _, part := range strings.Split(bindingList, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if idx := strings.IndexByte(part, '='); idx >= 0 {
			part = part[:idx]
		}
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		out = append(out, Export{Name: strPtr(name)})
	}
	return out
}

func strPtr(s string) *string { return &s }
