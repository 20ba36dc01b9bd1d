package index

import "testing"

func TestExtractMetadata(t *testing.T) {
	cases := []struct {
		name    string
		docType DocType
		rel     string
		want    Metadata
	}{
		{
			name:    "project for-review file",
			docType: DocTypeProject,
			rel:     "2024/城东变电站扩建/送审/初步设计报告.docx",
			want:    Metadata{Year: "2024", ProjectName: "城东变电站扩建", Status: "送审"},
		},
		{
			name:    "project records with category and sub category",
			docType: DocTypeProject,
			rel:     "2024/城东变电站扩建/过程记录/电气/计算书/短路计算.xlsx",
			want: Metadata{
				Year: "2024", ProjectName: "城东变电站扩建", Status: "过程记录",
				Category: "电气", SubCategory: "计算书",
			},
		},
		{
			name:    "project unknown status level ignored",
			docType: DocTypeProject,
			rel:     "2024/城东变电站扩建/草稿/东西.txt",
			want:    Metadata{Year: "2024", ProjectName: "城东变电站扩建"},
		},
		{
			name:    "project bare year dir",
			docType: DocTypeProject,
			rel:     "2024",
			want:    Metadata{Year: "2024"},
		},
		{
			name:    "spec doc directory layout",
			docType: DocTypeSpec,
			rel:     "电气/DLT 866-2015 电流互感器选择/正文.md",
			want:    Metadata{Category: "电气", DocName: "DLT 866-2015 电流互感器选择"},
		},
		{
			name:    "spec file directly under category",
			docType: DocTypeSpec,
			rel:     "电气/GB 50217-2018.pdf",
			want:    Metadata{Category: "电气", DocName: "GB 50217-2018"},
		},
		{
			name:    "spec image gets no doc name",
			docType: DocTypeSpec,
			rel:     "电气/DLT 866-2015_md/images/图1.png",
			want:    Metadata{Category: "电气"},
		},
		{
			name:    "management category and sub category",
			docType: DocTypeManagement,
			rel:     "规章制度/安全管理/作业票制度.pdf",
			want:    Metadata{Category: "规章制度", SubCategory: "安全管理"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ExtractMetadata(tc.docType, tc.rel)
			if got != tc.want {
				t.Errorf("ExtractMetadata(%s, %q) = %+v, want %+v", tc.docType, tc.rel, got, tc.want)
			}
		})
	}
}

func TestIgnoredName(t *testing.T) {
	cases := []struct {
		name string
		want bool
	}{
		{".DS_Store", true},
		{"dir/.hidden", true},
		{"~$report.docx", true},
		{"upload-123.tmp", true},
		{"报告.docx", false},
		{"a/b/c.pdf", false},
	}
	for _, tc := range cases {
		if got := IgnoredName(tc.name); got != tc.want {
			t.Errorf("IgnoredName(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestExtOf(t *testing.T) {
	if got := ExtOf("报告.DOCX"); got != "docx" {
		t.Errorf("ExtOf = %q", got)
	}
	if got := ExtOf("noext"); got != "" {
		t.Errorf("ExtOf = %q", got)
	}
}
