package normalizer

// canonicalNames 标准名称 -> 常见写法（匹配时忽略大小写、重音和标点）
var canonicalNames = map[string][]string{
	// 血糖与代谢
	"Glicose":             {"glicemia", "glicemia de jejum", "glicose de jejum", "glucose", "glu", "glicose em jejum"},
	"Hemoglobina Glicada": {"hba1c", "a1c", "hemoglobina glicosilada", "glico-hemoglobina", "hemoglobina a1c"},
	"Insulina":            {"insulina basal", "insulina de jejum"},
	"Ácido Úrico":         {"acido urico", "urato", "uric acid"},

	// 血脂
	"Colesterol Total": {"colesterol", "ct", "total cholesterol"},
	"HDL":              {"colesterol hdl", "hdl colesterol", "hdl-c", "hdl c"},
	"LDL":              {"colesterol ldl", "ldl colesterol", "ldl-c", "ldl c"},
	"VLDL":             {"colesterol vldl", "vldl colesterol", "vldl-c"},
	"Triglicerídeos":   {"triglicerides", "triglicérides", "tg", "triglycerides", "triglicerideos"},

	// 肾功能
	"Creatinina":                   {"creat", "creatinine", "creatinina serica"},
	"Ureia":                        {"uréia", "urea", "bun"},
	"Taxa de Filtração Glomerular": {"tfg", "tfge", "egfr", "filtracao glomerular"},

	// 肝功能
	"TGO":                {"ast", "aspartato aminotransferase", "transaminase oxalacetica", "tgo ast"},
	"TGP":                {"alt", "alanina aminotransferase", "transaminase piruvica", "tgp alt"},
	"Gama GT":            {"ggt", "gama glutamil transferase", "gamaglutamiltransferase", "gama-gt"},
	"Fosfatase Alcalina": {"fa", "alp", "alkaline phosphatase"},
	"Bilirrubina Total":  {"bilirrubina", "bt"},
	"Albumina":           {"albumina serica", "albumin"},

	// 血常规
	"Hemoglobina": {"hb", "hgb", "hemoglobin"},
	"Hematócrito": {"ht", "hct", "hematocrit"},
	"Hemácias":    {"eritrocitos", "eritrócitos", "rbc", "globulos vermelhos", "contagem de hemacias"},
	"Leucócitos":  {"leucocitos totais", "wbc", "globulos brancos", "leucograma"},
	"Plaquetas":   {"plt", "contagem de plaquetas", "platelets", "trombocitos"},
	"VCM":         {"volume corpuscular medio", "mcv"},
	"HCM":         {"hemoglobina corpuscular media", "mch"},
	"CHCM":        {"concentracao de hemoglobina corpuscular media", "mchc"},
	"RDW":         {"rdw-cv", "amplitude de distribuicao dos eritrocitos"},
	"Neutrófilos": {"neutrofilos segmentados", "segmentados", "neut"},
	"Linfócitos":  {"linf", "lymphocytes"},

	// 甲状腺
	"TSH":      {"tirotrofina", "hormonio tireoestimulante", "tsh ultrassensivel"},
	"T4 Livre": {"t4l", "tiroxina livre", "free t4", "ft4"},
	"T3":       {"triiodotironina", "t3 total"},

	// 电解质与矿物质
	"Sódio":        {"na", "sodio serico", "sodium"},
	"Potássio":     {"k", "potassio serico", "potassium"},
	"Cálcio":       {"ca", "calcio total", "calcium"},
	"Magnésio":     {"mg", "magnesium"},
	"Ferro Sérico": {"ferro", "fe", "iron"},
	"Ferritina":    {"ferritin"},

	// 维生素与炎症
	"Vitamina D":                      {"25-oh vitamina d", "25 hidroxivitamina d", "vitamina d3", "25(oh)d", "vit d"},
	"Vitamina B12":                    {"b12", "cobalamina", "vit b12"},
	"Proteína C Reativa":              {"pcr", "crp", "proteina c reativa ultrassensivel", "pcr us"},
	"Velocidade de Hemossedimentação": {"vhs", "esr", "hemossedimentacao"},

	// 激素
	"PSA Total":          {"psa", "antigeno prostatico especifico"},
	"Testosterona Total": {"testosterona"},
	"Cortisol":           {"cortisol basal", "cortisol matinal"},
}
