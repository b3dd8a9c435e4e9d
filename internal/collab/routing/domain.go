// Package routing implements the specialist router (C7): domain detection
// from free text and strategy-driven selection across specialist profiles.
package routing

import "strings"

// TaskDomain is one of the fixed specialty tags a profile can carry.
type TaskDomain string

const (
	DomainCodeGeneration TaskDomain = "code_generation"
	DomainCodeReview     TaskDomain = "code_review"
	DomainDocumentation  TaskDomain = "documentation"
	DomainTesting        TaskDomain = "testing"
	DomainSecurity       TaskDomain = "security"
	DomainPerformance    TaskDomain = "performance"
	DomainArchitecture   TaskDomain = "architecture"
	DomainDataAnalysis   TaskDomain = "data_analysis"
	DomainNaturalLanguage TaskDomain = "natural_language"
	DomainMathematics    TaskDomain = "mathematics"
	DomainResearch       TaskDomain = "research"
	DomainCreative       TaskDomain = "creative"
	DomainGeneral        TaskDomain = "general"
)

// domainPriority is the fixed evaluation order from §4.7: the first domain
// with any keyword match in the lowercased text wins, ties broken by this
// order rather than by match count.
var domainPriority = []TaskDomain{
	DomainSecurity,
	DomainPerformance,
	DomainArchitecture,
	DomainTesting,
	DomainDocumentation,
	DomainCodeReview,
	DomainCodeGeneration,
	DomainDataAnalysis,
	DomainMathematics,
	DomainResearch,
	DomainCreative,
	DomainNaturalLanguage,
	DomainGeneral,
}

// keywords lists the trigger words for every domain except General, which
// has none and serves as the fallback when nothing else matches.
var keywords = map[TaskDomain][]string{
	DomainSecurity:        {"security", "vulnerability", "exploit", "auth", "encryption", "cve", "injection", "xss", "csrf"},
	DomainPerformance:     {"performance", "latency", "throughput", "optimize", "benchmark", "profil", "slow", "bottleneck"},
	DomainArchitecture:    {"architecture", "design pattern", "microservice", "scalab", "system design", "infrastructure"},
	DomainTesting:         {"test", "unit test", "integration test", "coverage", "mock", "assert", "regression"},
	DomainDocumentation:   {"document", "docstring", "readme", "comment", "explain", "tutorial"},
	DomainCodeReview:      {"review", "pull request", "pr ", "code quality", "lint", "refactor"},
	DomainCodeGeneration:  {"implement", "write a function", "generate code", "create a", "build a", "new function"},
	DomainDataAnalysis:    {"data analysis", "dataset", "statistics", "visualiz", "pandas", "dataframe"},
	DomainMathematics:     {"math", "equation", "calculus", "algebra", "proof", "theorem"},
	DomainResearch:        {"research", "survey", "literature", "investigat", "study"},
	DomainCreative:        {"creative", "story", "poem", "narrative", "brainstorm"},
	DomainNaturalLanguage: {"translat", "summariz", "sentiment", "nlp", "language model"},
}

// FromKeywords returns the first TaskDomain (in priority order) whose
// keyword list matches anywhere in the lowercased text. DomainGeneral is
// returned when nothing else matches.
func FromKeywords(text string) TaskDomain {
	lower := strings.ToLower(text)
	for _, domain := range domainPriority {
		for _, kw := range keywords[domain] {
			if strings.Contains(lower, kw) {
				return domain
			}
		}
	}
	return DomainGeneral
}
