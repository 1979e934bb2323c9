// 階段頁面渲染
//
// 展示層是外圍膠水：它唯一要緊的產出是把下一階段的令牌
// 以連結形式嵌入頁面（ContinueURL）。倒計時與「驗證」彈窗
// 都是純客戶端的延遲手段，對閘門正確性沒有任何影響：
// 跳過它們直接請求下一關的網址同樣有效（令牌才是閘門）。
package handler

import (
	"html/template"
	"net/http"
)

// pageData 模板數據
type pageData struct {
	// ContinueURL 下一階段的相對路徑（內嵌下一個令牌）
	ContinueURL string

	// VerifyURL 「驗證」彈窗打開的外部網址（空則跳過驗證步驟）
	VerifyURL string

	// Seconds 倒計時秒數
	Seconds int
}

// countdownJS 倒計時與解鎖邏輯（入口頁與中間頁共用）
//
// 解鎖條件：計時結束，且（如配置了 VerifyURL）完成過一次驗證點擊
const countdownJS = `
let timerDone = false;
let verified = {{if .VerifyURL}}false{{else}}true{{end}};
function startTimer() {
    let t = {{.Seconds}};
    let timer = setInterval(() => {
        document.getElementById("t").innerText = t;
        if (t <= 0) {
            clearInterval(timer);
            timerDone = true;
            document.getElementById("timerText").innerText = verified ? "You may continue" : "Please verify to continue";
            let vb = document.getElementById("verifyBox");
            if (vb) { vb.style.display = "block"; }
            checkUnlock();
        }
        t--;
    }, 1000);
}
window.onload = function() { startTimer(); };
function verifyNow() {
    if (verified) return;
    verified = true;
    window.open({{.VerifyURL}}, "_blank");
    document.getElementById("verifyBox").style.display = "none";
    checkUnlock();
}
function checkUnlock() {
    if (timerDone && verified) {
        document.getElementById("continueBox").style.display = "block";
    }
}
`

const pageStyle = `
body { font-family: Arial; line-height: 1.8; margin: 0; background: #0f2027; color: #eaeaea; }
h1, h2 { color: #4da3ff; }
.section { background: #fff; color: #000; padding: 25px; margin-bottom: 30px; border-left: 6px solid #4da3ff; }
.card { background: #fff; color: #000; border-radius: 16px; padding: 20px; margin: 16px; }
.btn { background: #4da3ff; color: #fff; border: none; padding: 14px; width: 100%; border-radius: 30px; font-size: 16px; cursor: pointer; }
.timer { text-align: center; font-size: 16px; margin: 20px 0; }
.topbar { background: #121212; color: #fff; padding: 12px 16px; font-size: 20px; font-weight: 700; }
`

// entryPage 入口頁（階段 0）：長文案 + 倒計時 + 驗證 + 繼續按鈕
const entryPage = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<title>Master Your Productivity</title>
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<style>` + pageStyle + `</style>
<script>` + countdownJS + `</script>
</head>
<body>
<div class="topbar">Master Your Productivity</div>
<div class="card">
<h1>Master Your Productivity &amp; Focus</h1>
<div class="timer">
<p id="timerText">Please wait <b id="t">{{.Seconds}}</b> seconds while content loads</p>
</div>

<div class="section">
<h2>Introduction</h2>
<p>Staying focused in a world full of notifications is harder than ever. Yet a handful of small, deliberate habits can reclaim hours of deep work every week. This guide walks through practical techniques you can apply today, from structuring your mornings to taming your inbox.</p>
</div>

<div class="section">
<h2>Design Your Environment</h2>
<p>Willpower is a finite resource; environment is not. Keep your phone in another room during focus blocks. Use a single browser window with only the tabs the current task needs. A clear desk and a closed door do more for concentration than any app.</p>
</div>

<div class="section">
<h2>Work in Cycles</h2>
<p>Long unbroken sessions feel productive but decay fast. Work in 50-minute cycles with 10-minute breaks away from the screen. Track just one metric: how many full cycles you complete per day. Most people find three honest cycles beat eight distracted hours.</p>
</div>

<div class="section">
<h2>Review Weekly</h2>
<p>Every Friday, spend fifteen minutes reviewing what moved forward and what stalled. Cut recurring meetings that produced nothing twice in a row. A short written review compounds: after a month you will know exactly where your time leaks.</p>
</div>

</div>

{{if .VerifyURL}}
<div id="verifyBox" style="display:none; margin:16px;">
<button class="btn" onclick="verifyNow()">Verify to Continue</button>
</div>
{{end}}
<div id="continueBox" style="display:none; margin:16px;">
<a href="{{.ContinueURL}}">
<button class="btn">Continue</button>
</a>
</div>
</body>
</html>
`

// stagePage 中間階段頁：短文案版本（訪客已經「投入」，不需要再鋪陳）
const stagePage = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<title>Almost There</title>
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<style>` + pageStyle + `</style>
<script>` + countdownJS + `</script>
</head>
<body>
<div class="topbar">Almost There</div>
<div class="card">
<h1>Preparing Your Content</h1>
<div class="timer">
<p id="timerText">Please wait <b id="t">{{.Seconds}}</b> seconds</p>
</div>
<div class="section">
<p>Your content is being prepared. This extra step keeps our links fast and reliable for everyone. Thanks for your patience.</p>
</div>
</div>

{{if .VerifyURL}}
<div id="verifyBox" style="display:none; margin:16px;">
<button class="btn" onclick="verifyNow()">Verify to Continue</button>
</div>
{{end}}
<div id="continueBox" style="display:none; margin:16px;">
<a href="{{.ContinueURL}}">
<button class="btn">Continue</button>
</a>
</div>
</body>
</html>
`

// 模板編譯一次（進程啟動即失敗優於請求期才發現語法錯誤）
var (
	entryTmpl = template.Must(template.New("entry").Parse(entryPage))
	stageTmpl = template.Must(template.New("stage").Parse(stagePage))
)

func (h *Handler) renderEntry(w http.ResponseWriter, data pageData) {
	h.render(w, entryTmpl, data)
}

func (h *Handler) renderStage(w http.ResponseWriter, data pageData) {
	h.render(w, stageTmpl, data)
}

func (h *Handler) render(w http.ResponseWriter, t *template.Template, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := t.Execute(w, data); err != nil {
		// 響應頭已送出，只能記日誌
		h.logger.Error("render page failed", "template", t.Name(), "error", err)
	}
}
