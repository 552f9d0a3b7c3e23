package mcpserver

// ReferenceSyntax describes how page content written through the MCP
// tools is turned into references.
const ReferenceSyntax = `# Link Graph Reference Syntax

Page content is written as Markdown. References to other pages are
recognised in paragraphs, headings and list items, never in code.

## Forms

- ` + "`" + `[Page Title]` + "`" + ` – a bracket reference.
- ` + "`" + `[[Page Title]]` + "`" + ` or ` + "`" + `[[Page Title|shown text]]` + "`" + ` – the same, with optional display text.
- ` + "`" + `#tag` + "`" + ` – a tag reference. Tags start with a letter and may contain
  letters, digits, ` + "`" + `_` + "`" + `, ` + "`" + `-` + "`" + ` and ` + "`" + `/` + "`" + `. A tag must start the text or follow whitespace.
- ` + "`" + `[text](url)` + "`" + ` is an ordinary Markdown link and is NOT a reference.

## Keys

Every reference is grouped by its key: the target text, trimmed, with runs
of whitespace collapsed and lowercased. ` + "`" + `[React]` + "`" + `, ` + "`" + `[ react ]` + "`" + ` and ` + "`" + `#React` + "`" + `
all belong to the group ` + "`" + `react` + "`" + `.

## Resolution

A group starts unresolved. ` + "`" + `create_page_from_link` + "`" + ` creates a page titled with the
group's raw text (or reuses the page it already points at) and resolves
the group. All references with that key, on any page, then point at it.

Deleting a page leaves the groups that pointed at it dangling; they can be
resolved again.

## Example

` + "```" + `markdown
# Weekly standup

Discussed the [React] migration with #frontend.
Next: update the [[Roadmap|roadmap]].
` + "```" + `
`
