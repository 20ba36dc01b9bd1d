package index

import "strings"

// Query selects indexed files by equality on any subset of fields. A value
// containing '%' switches that field to a LIKE match. Zero values are
// ignored.
type Query struct {
	DocType      DocType
	RelativePath string
	FileName     string
	Ext          string
	Year         string
	ProjectName  string
	Status       string
	Category     string
	SubCategory  string
	DocName      string
	Limit        int
}

func (q Query) build() (string, []interface{}) {
	type cond struct {
		col string
		val string
	}
	conds := []cond{
		{"document_type", string(q.DocType)},
		{"relative_path", q.RelativePath},
		{"file_name", q.FileName},
		{"ext", q.Ext},
		{"year", q.Year},
		{"project_name", q.ProjectName},
		{"status", q.Status},
		{"category", q.Category},
		{"sub_category", q.SubCategory},
		{"doc_name", q.DocName},
	}

	var clauses []string
	var args []interface{}
	for _, c := range conds {
		if c.val == "" {
			continue
		}
		op := "="
		if strings.Contains(c.val, "%") {
			op = "LIKE"
		}
		clauses = append(clauses, c.col+" "+op+" ?")
		args = append(args, c.val)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}
