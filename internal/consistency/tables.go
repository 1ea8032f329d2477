package consistency

import (
	"strings"

	"github.com/sinavika/fraudwatch/internal/domain"
)

// Tables holds the injected lookup data used by the medical coding rules.
// They are immutable after construction; reloading builds a new Tables and
// swaps it in at the engine level.
type Tables struct {
	// Upcoding maps a primary diagnosis ICD-10 code to the set of
	// procedure ICD-9-CM codes considered implausible for it.
	Upcoding map[string]map[string]bool

	// diagnosisChapters maps the leading ICD-10 letter to a body-system
	// category.
	diagnosisChapters map[byte]string

	// procedureCategories maps a two-digit ICD-9-CM prefix to a procedure
	// category.
	procedureCategories map[string]string

	// compatiblePairs maps a diagnosis category to the procedure
	// categories that are plausible for it.
	compatiblePairs map[string][]string
}

// NewTables builds lookup tables from configured upcoding pairs layered on
// top of the built-in ICD chapter/category compatibility data.
func NewTables(pairs []*domain.UpcodingPair) *Tables {
	t := &Tables{
		Upcoding: make(map[string]map[string]bool),
		diagnosisChapters: map[byte]string{
			'A': "infectious", 'B': "infectious",
			'C': "neoplasm", 'D': "blood",
			'E': "endocrine",
			'F': "mental",
			'G': "nervous",
			'H': "eye_ear",
			'I': "circulatory",
			'J': "respiratory",
			'K': "digestive",
			'L': "skin",
			'M': "musculoskeletal",
			'N': "genitourinary",
			'O': "pregnancy",
			'P': "perinatal",
			'Q': "congenital",
			'R': "symptoms",
			'S': "injury", 'T': "injury",
			'V': "external", 'W': "external", 'X': "external", 'Y': "external",
			'Z': "health_status",
		},
		procedureCategories: buildProcedureCategories(),
		compatiblePairs: map[string][]string{
			"respiratory":     {"respiratory", "diagnostic", "therapeutic"},
			"circulatory":     {"cardiovascular", "diagnostic", "therapeutic"},
			"digestive":       {"digestive", "diagnostic", "therapeutic"},
			"nervous":         {"nervous", "diagnostic", "therapeutic"},
			"musculoskeletal": {"musculoskeletal", "diagnostic", "therapeutic"},
			"genitourinary":   {"genitourinary", "diagnostic", "therapeutic"},
			"pregnancy":       {"obstetric", "diagnostic", "therapeutic"},
			"infectious":      {"diagnostic", "therapeutic"},
			"endocrine":       {"diagnostic", "therapeutic"},
			"skin":            {"diagnostic", "therapeutic"},
			"injury":          {"musculoskeletal", "nervous", "cardiovascular", "diagnostic", "therapeutic"},
			"symptoms":        {"diagnostic", "therapeutic"},
		},
	}
	for _, p := range pairs {
		dx := strings.ToUpper(strings.TrimSpace(p.DiagnosisICD10))
		proc := strings.TrimSpace(p.ProcedureICD9CM)
		if dx == "" || proc == "" {
			continue
		}
		if t.Upcoding[dx] == nil {
			t.Upcoding[dx] = make(map[string]bool)
		}
		t.Upcoding[dx][proc] = true
	}
	return t
}

func buildProcedureCategories() map[string]string {
	ranges := map[string][2]int{
		"nervous":         {1, 5},
		"eye":             {8, 16},
		"ear":             {18, 20},
		"respiratory":     {30, 34},
		"cardiovascular":  {35, 39},
		"digestive":       {42, 54},
		"genitourinary":   {55, 71},
		"obstetric":       {72, 75},
		"musculoskeletal": {76, 84},
		"diagnostic":      {87, 88},
		"therapeutic":     {93, 99},
	}
	m := make(map[string]string)
	for category, r := range ranges {
		for n := r[0]; n <= r[1]; n++ {
			prefix := string([]byte{'0' + byte(n/10), '0' + byte(n%10)})
			m[prefix] = category
		}
	}
	return m
}

// DiagnosisCategory returns the body-system category for an ICD-10 code,
// or "unknown" when the code is empty or unmapped.
func (t *Tables) DiagnosisCategory(icd10 string) string {
	code := strings.TrimSpace(icd10)
	if code == "" {
		return "unknown"
	}
	ch := code[0]
	if ch >= 'a' && ch <= 'z' {
		ch -= 'a' - 'A'
	}
	if cat, ok := t.diagnosisChapters[ch]; ok {
		return cat
	}
	return "unknown"
}

// ProcedureCategory returns the category for an ICD-9-CM procedure code,
// or "unknown" when the code is empty or unmapped. Categories key off the
// two digits before the decimal point.
func (t *Tables) ProcedureCategory(icd9 string) string {
	code := strings.TrimSpace(icd9)
	if i := strings.IndexByte(code, '.'); i >= 0 {
		code = code[:i]
	}
	if len(code) < 2 {
		return "unknown"
	}
	if cat, ok := t.procedureCategories[code[:2]]; ok {
		return cat
	}
	return "unknown"
}

// Compatible reports whether a diagnosis category and a procedure category
// form a plausible clinical pairing. Unknown categories get the benefit of
// the doubt.
func (t *Tables) Compatible(diagnosisCategory, procedureCategory string) bool {
	if diagnosisCategory == "unknown" || procedureCategory == "unknown" {
		return true
	}
	for _, c := range t.compatiblePairs[diagnosisCategory] {
		if c == procedureCategory {
			return true
		}
	}
	return false
}

// Implausible reports whether the configured upcoding table lists the
// procedure as implausible for the diagnosis.
func (t *Tables) Implausible(diagnosisICD10, procedureICD9 string) bool {
	dx := strings.ToUpper(strings.TrimSpace(diagnosisICD10))
	set, ok := t.Upcoding[dx]
	if !ok {
		return false
	}
	return set[strings.TrimSpace(procedureICD9)]
}
