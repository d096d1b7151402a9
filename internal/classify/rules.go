package classify

// DefaultRules is the built-in platform table. Order matters: two rules that
// could both match the same text resolve to whichever comes first here.
func DefaultRules() []Rule {
	return []Rule{
		{Code: "wa", Keywords: []string{"whatsapp", "wa.me", "chat.whatsapp.com"}, Patterns: []string{`wa\.me|chat\.whatsapp\.com`}},
		{Code: "tg", Keywords: []string{"telegram", "t.me", "telegram.me"}, Patterns: []string{`t\.me|telegram\.me`}},
		{Code: "ig", Keywords: []string{"instagram", "instagr.am", "ig.me"}, Patterns: []string{`instagr\.am|instagram\.com`}},
		{Code: "fb", Keywords: []string{"facebook", "fb.me", "facebook.com"}, Patterns: []string{`fb\.me|facebook\.com`}},
		{Code: "tw", Keywords: []string{"twitter", "t.co", "twitter.com", "x.com"}, Patterns: []string{`t\.co|twitter\.com|x\.com`}},
		{Code: "go", Keywords: []string{"google", "gmail", "google.com", "gmail.com"}, Patterns: []string{`google\.com|gmail\.com`}},
		{Code: "tt", Keywords: []string{"tiktok", "tiktok.com", "vm.tiktok.com"}, Patterns: []string{`tiktok\.com|vm\.tiktok\.com`}},
		{Code: "kw", Keywords: []string{"kwai", "kwai.com"}, Patterns: []string{`kwai\.com`}},
		{Code: "ol", Keywords: []string{"olx", "olx.com.br"}, Patterns: []string{`olx\.com\.br`}},
		{Code: "if", Keywords: []string{"ifood", "ifood.com.br"}, Patterns: []string{`ifood\.com\.br`}},
		{Code: "99", Keywords: []string{"99", "99app.com"}, Patterns: []string{`99app\.com`}},
		{Code: "ub", Keywords: []string{"uber", "uber.com"}, Patterns: []string{`uber\.com`}},
		{Code: "pp", Keywords: []string{"picpay", "picpay.com"}, Patterns: []string{`picpay\.com`}},
		{Code: "me", Keywords: []string{"mercadolivre", "mercadolivre.com.br", "ml.com.br"}, Patterns: []string{`mercadolivre\.com\.br|ml\.com\.br`}},
		{Code: "nu", Keywords: []string{"nubank", "nubank.com.br"}, Patterns: []string{`nubank\.com\.br`}},
		{Code: "in", Keywords: []string{"banco inter", "bancointer.com.br"}, Patterns: []string{`bancointer\.com\.br`}},
		{Code: "ma", Keywords: []string{"magalu", "magazineluiza.com.br"}, Patterns: []string{`magazineluiza\.com\.br`}},
		{Code: "ae", Keywords: []string{"aliexpress", "aliexpress.com"}, Patterns: []string{`aliexpress\.com`}},
		{Code: "am", Keywords: []string{"amazon", "amazon.com.br"}, Patterns: []string{`amazon\.com\.br`}},
		{Code: "li", Keywords: []string{"linkedin", "linkedin.com"}, Patterns: []string{`linkedin\.com`}},
	}
}
