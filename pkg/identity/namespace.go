package identity

import "strings"

// Namespace is the identifier system an EquivalentId value belongs to.
type Namespace string

// NamespaceUnknown is assigned when a parsed namespace token is not recognized.
const NamespaceUnknown Namespace = ""

const (
	NamespaceUniProtKB Namespace = "UniProtKB"
	NamespaceEnsembl   Namespace = "ENSEMBL"
	NamespaceNCBIGene  Namespace = "NCBIGene"
	NamespaceHGNC      Namespace = "HGNC"
	NamespaceOMIM      Namespace = "OMIM"
	NamespaceUMLS      Namespace = "UMLS"
	NamespacePR        Namespace = "PR"
	NamespaceWormBase  Namespace = "WormBase"
	NamespaceZFIN      Namespace = "ZFIN"
	NamespaceRGD       Namespace = "RDG"
	NamespaceMGI       Namespace = "MGI"
	NamespaceDictyBase Namespace = "dictyBase"
	NamespaceFB        Namespace = "FB"
	NamespaceSGD       Namespace = "SGD"
	NamespaceMONDO     Namespace = "MONDO"
	NamespaceDOID      Namespace = "DOID"
	NamespaceOrphanet  Namespace = "orphanet"
	NamespaceMESH      Namespace = "MESH"
	NamespaceNCIT      Namespace = "NCIT"
	NamespaceSNOMEDCT  Namespace = "SNOMEDCT"
	NamespaceICD10     Namespace = "ICD10"
	NamespaceICD9      Namespace = "ICD9"
	NamespaceEN        Namespace = "EN"
	NamespaceBRENDA    Namespace = "BRENDA"
	NamespaceCHEBI     Namespace = "CHEBI"
	NamespaceRefSeq    Namespace = "RefSeq"
	NamespaceWikidata  Namespace = "Wikidata"
	NamespaceHMDB      Namespace = "HMDB"
)

var recognized = func() map[string]Namespace {
	all := []Namespace{
		NamespaceUniProtKB, NamespaceEnsembl, NamespaceNCBIGene, NamespaceHGNC, NamespaceOMIM,
		NamespaceUMLS, NamespacePR, NamespaceWormBase, NamespaceZFIN, NamespaceRGD, NamespaceMGI,
		NamespaceDictyBase, NamespaceFB, NamespaceSGD, NamespaceMONDO, NamespaceDOID,
		NamespaceOrphanet, NamespaceMESH, NamespaceNCIT, NamespaceSNOMEDCT, NamespaceICD10,
		NamespaceICD9, NamespaceEN, NamespaceBRENDA, NamespaceCHEBI, NamespaceRefSeq,
		NamespaceWikidata, NamespaceHMDB,
	}
	m := make(map[string]Namespace, len(all))
	for _, ns := range all {
		m[strings.ToLower(string(ns))] = ns
	}
	return m
}()

// LookupNamespace matches a namespace token case-insensitively and returns
// its canonical spelling.
func LookupNamespace(token string) (Namespace, bool) {
	ns, ok := recognized[strings.ToLower(strings.TrimSpace(token))]
	return ns, ok
}

func (n Namespace) IsKnown() bool {
	_, ok := LookupNamespace(string(n))
	return ok
}
