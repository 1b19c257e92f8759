package model

import "time"

// Subject is the tagged union of what an anomaly is about. Exactly one of
// the process or filesystem fields is meaningful, selected by Kind.
type Subject struct {
	Kind SubjectKind

	// process subject
	PID        int
	Name       string
	Path       string
	ParentPID  int
	ParentName string
	HasParent  bool

	// filesystem subject
	FSName string
	FSPath string
}

// ProcessSubject builds a process-kind Subject. Path is always the path
// observed by the enumerator at snapshot time; callers must never re-read
// it during analysis.
func ProcessSubject(pid int, name, path string) Subject {
	return Subject{Kind: SubjectProcess, PID: pid, Name: name, Path: path}
}

// ProcessSubjectWithParent builds a process-kind Subject that also names its
// parent.
func ProcessSubjectWithParent(pid int, name, path string, parentPID int, parentName string) Subject {
	s := ProcessSubject(pid, name, path)
	s.ParentPID = parentPID
	s.ParentName = parentName
	s.HasParent = true
	return s
}

// FilesystemSubject builds a filesystem-kind Subject.
func FilesystemSubject(name, path string) Subject {
	return Subject{Kind: SubjectFilesystem, FSName: name, FSPath: path}
}

// EvidencePair is one ordered entry in an Anomaly's evidence list. A plain
// map cannot preserve the insertion-order invariant, so evidence is a slice.
type EvidencePair struct {
	Key   string
	Value string
}

// Evidence is an insertion-ordered, append-only evidence builder.
type Evidence struct {
	pairs []EvidencePair
}

// NewEvidence starts an evidence list, optionally with an identifying first
// pair (spec requires the first key always identify the pid/path).
func NewEvidence(pairs ...EvidencePair) Evidence {
	e := Evidence{}
	e.pairs = append(e.pairs, pairs...)
	return e
}

// With appends a key/value pair and returns the receiver for chaining.
func (e Evidence) With(key, value string) Evidence {
	e.pairs = append(e.pairs, EvidencePair{Key: key, Value: value})
	return e
}

// Pairs returns the ordered evidence pairs.
func (e Evidence) Pairs() []EvidencePair {
	return e.pairs
}

// Get returns the first value for key, or "" if absent.
func (e Evidence) Get(key string) string {
	for _, p := range e.pairs {
		if p.Key == key {
			return p.Value
		}
	}
	return ""
}

// Pair is a convenience constructor for EvidencePair.
func Pair(key, value string) EvidencePair {
	return EvidencePair{Key: key, Value: value}
}

// Anomaly is the immutable record emitted by every probe.
type Anomaly struct {
	Subject     Subject
	Technique   string
	Description string
	Severity    Severity
	MitreID     string
	ScannerID   string
	EnumMethod  string
	Evidence    Evidence
	Timestamp   time.Time
}

// NewProcessAnomaly constructs an Anomaly about a process subject.
func NewProcessAnomaly(scannerID, technique, description string, sev Severity, mitreID, enumMethod string, subject Subject, evidence Evidence) Anomaly {
	return Anomaly{
		Subject:     subject,
		Technique:   technique,
		Description: description,
		Severity:    sev,
		MitreID:     mitreID,
		ScannerID:   scannerID,
		EnumMethod:  enumMethod,
		Evidence:    evidence,
		Timestamp:   time.Now(),
	}
}

// NewFilesystemAnomaly constructs an Anomaly about a filesystem subject.
func NewFilesystemAnomaly(scannerID, technique, description string, sev Severity, mitreID, enumMethod string, subject Subject, evidence Evidence) Anomaly {
	return NewProcessAnomaly(scannerID, technique, description, sev, mitreID, enumMethod, subject, evidence)
}

// ByPidThenTechnique orders anomalies within a single probe's output:
// pid ascending, then technique string ascending. Filesystem-subject
// anomalies (no pid) sort after all process-subject ones.
func ByPidThenTechnique(anomalies []Anomaly) {
	less := func(i, j int) bool {
		a, b := anomalies[i], anomalies[j]
		ai, bi := subjectSortPID(a.Subject), subjectSortPID(b.Subject)
		if ai != bi {
			return ai < bi
		}
		return a.Technique < b.Technique
	}
	insertionSort(anomalies, less)
}

func subjectSortPID(s Subject) int {
	if s.Kind == SubjectProcess {
		return s.PID
	}
	return int(^uint(0) >> 1) // filesystem subjects sort last
}

// insertionSort keeps sorting deterministic and dependency-free for the
// small slices a single probe produces per scan.
func insertionSort(a []Anomaly, less func(i, j int) bool) {
	for i := 1; i < len(a); i++ {
		for j := i; j > 0 && less(j, j-1); j-- {
			a[j], a[j-1] = a[j-1], a[j]
		}
	}
}
