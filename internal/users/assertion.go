package users

// Assertion is a claimed identity presented for resolution. The concrete variants are
// LocalAssertion and ExternalAssertion.
type Assertion interface {
	channel() string
}

// LocalAssertion wraps an account already proven by the credential verifier.
type LocalAssertion struct {
	Account Account
}

func (LocalAssertion) channel() string {
	return "local"
}

// ExternalAssertion carries a profile already verified by an upstream identity provider.
type ExternalAssertion struct {
	Provider      string
	SubjectID     string
	Email         string
	EmailVerified bool
	Name          string
	Picture       string
	Tokens        ProviderTokens
}

func (ExternalAssertion) channel() string {
	return "external"
}

func (a ExternalAssertion) normalized() ExternalAssertion {
	a.Provider = normalizeKey(a.Provider)
	a.SubjectID = normalize(a.SubjectID)
	a.Email = NormalizeEmail(a.Email)
	a.Name = normalize(a.Name)
	a.Picture = normalize(a.Picture)
	return a
}

func (a ExternalAssertion) link() ProviderLink {
	link := ProviderLink{
		Provider:          a.Provider,
		ProviderSubjectID: a.SubjectID,
	}
	a.Tokens.apply(&link)
	return link
}
