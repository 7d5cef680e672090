package api

import (
	"html/template"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

var uiTemplates = template.Must(template.New("layout").Funcs(template.FuncMap{
	"percent": func(p float64) int { return int(p*100 + 0.5) },
}).Parse(`{{define "layout"}}
<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8"/>
  <meta name="viewport" content="width=device-width, initial-scale=1"/>
  {{if .Refresh}}<meta http-equiv="refresh" content="2"/>{{end}}
  <title>ZPL merge</title>
  <style>
    body{font-family:system-ui,-apple-system,Segoe UI,Roboto,Ubuntu,Cantarell,Noto Sans,sans-serif;max-width:880px;margin:32px auto;padding:0 16px;color:#0b0b0b;background:#fafafa}
    header{margin-bottom:24px}
    h1{font-size:22px;margin:0 0 8px}
    a{color:#0b63e5;text-decoration:none}
    a:hover{text-decoration:underline}
    .card{background:#fff;border:1px solid #e9e9e9;border-radius:10px;padding:16px;margin:12px 0}
    .row{display:flex;gap:12px;flex-wrap:wrap}
    .btn{display:inline-block;background:#0b63e5;color:#fff;border:none;padding:10px 14px;border-radius:8px;cursor:pointer}
    input[type=text],input[type=number],select{padding:9px 10px;border:1px solid #dcdcdc;border-radius:8px}
    .muted{color:#666}
    .mono{font-family:ui-monospace,SFMono-Regular,Menlo,Monaco,Consolas,monospace}
    .list{margin:0;padding-left:18px}
    .status{display:inline-block;padding:4px 8px;border-radius:6px;background:#efefef;font-size:12px}
    .failed{color:#b3261e}
    footer{margin-top:24px;color:#666;font-size:12px}
  </style>
</head>
<body>
  <header>
    <h1><a href="/">ZPL merge</a></h1>
    <div class="muted">Render a ZPL file through Labelary into one PDF</div>
  </header>
  {{if .Error}}
  <div class="card" style="border-color:#f2b8b5;background:#fff6f6">
    <strong class="failed">Error:</strong> <span class="muted">{{.Error}}</span>
  </div>
  {{end}}
  {{if .Job}}{{template "job" .}}{{else}}{{template "home" .}}{{end}}
  <footer>
    <div>API base: <span class="mono">/api/v1</span></div>
  </footer>
</body>
</html>
{{end}}

{{define "home"}}
  <div class="card">
    <h2>Convert labels</h2>
    <form method="post" action="/ui/jobs" enctype="multipart/form-data">
      <div><input type="file" name="file" accept=".zpl,.txt,text/plain" required /></div>
      <div class="row" style="margin-top:12px">
        <label>Width (in) <input type="number" step="0.01" min="0.01" name="width_in" value="{{.Page.WidthIn}}"/></label>
        <label>Height (in) <input type="number" step="0.01" min="0.01" name="height_in" value="{{.Page.HeightIn}}"/></label>
        <label>DPI
          <select name="dpi">
            {{$dpi := .Page.DPI}}
            {{range .DPIs}}<option value="{{.}}" {{if eq . $dpi}}selected{{end}}>{{.}}</option>{{end}}
          </select>
        </label>
      </div>
      <div style="margin-top:12px"><button class="btn" type="submit">Convert</button></div>
    </form>
    <div class="muted">POST /api/v1/jobs</div>
  </div>

  <div class="card">
    <h2>Open existing job</h2>
    <form method="get" action="/ui/jobs">
      <div class="row">
        <input type="text" name="id" placeholder="Job ID" required />
        <button class="btn" type="submit">Open</button>
      </div>
    </form>
  </div>
{{end}}

{{define "job"}}
  <div class="card">
    <h2>Job <span class="mono">{{.Job.ID}}</span></h2>
    {{if .Job.Title}}<div>File: <strong>{{.Job.Title}}</strong></div>{{end}}
    <div>Status: <span class="status">{{.Job.Status}}</span> · {{percent .Job.Progress}}%</div>
    <div class="muted">{{.Job.Page.WidthIn}}x{{.Job.Page.HeightIn}} in at {{.Job.Page.DPI}} dpi · created {{.Job.CreatedAt.Format "2006-01-02 15:04:05"}}</div>
    <div>{{.Job.Blocks}} block(s), {{.Job.Labels}} label(s), {{.Job.Succeeded}}/{{.Job.Batches}} batch(es), {{.Job.Pages}} page(s)</div>
    {{if .Job.Error}}<div class="failed">{{.Job.Error}}</div>{{end}}
  </div>

  {{if .Job.Failures}}
  <div class="card">
    <h3>Failed blocks</h3>
    <ul class="list">
    {{range .Job.Failures}}{{$f := .}}
      {{range .Blocks}}
      <li class="mono">#{{.Index}}{{if gt .Parts 1}} part {{.Part}}/{{.Parts}}{{end}} x{{.Quantity}} · batch {{$f.Batch}} · {{$f.StatusText}} · {{$f.Kind}}<div class="muted">{{.Excerpt}} | {{$f.Message}}</div></li>
      {{end}}
    {{end}}
    </ul>
  </div>
  {{end}}

  <div class="card">
    <h3>Document</h3>
    {{if eq .Job.Status "ready"}}
      <a class="btn" href="/api/v1/jobs/{{.Job.ID}}/document">Download PDF</a>
    {{else}}
      <span class="muted">Available when status is ready</span>
    {{end}}
  </div>

  {{if .Events}}
  <div class="card">
    <h3>Recent events</h3>
    <ul class="list mono">
    {{range .Events}}<li>{{.Time.Format "15:04:05"}} {{.Kind}}{{if .Batch}} batch {{.Batch}}{{end}}{{if .Message}} · {{.Message}}{{end}}</li>{{end}}
    </ul>
  </div>
  {{end}}
{{end}}
`))

const uiRecentEvents = 20

var uiDPIs = []int{203, 300, 600}

// RegisterUIRoutes registers minimal HTML UI without JS
func (a *API) RegisterUIRoutes(router *gin.Engine) {
	router.SetHTMLTemplate(uiTemplates)
	router.GET("/", a.UIHome)
	router.GET("/ui/jobs", a.UIOpenExisting)
	router.POST("/ui/jobs", a.UISubmit)
	router.GET("/ui/jobs/:id", a.UIJob)
}

// UIHome renders the upload form
func (a *API) UIHome(c *gin.Context) {
	c.HTML(http.StatusOK, "layout", a.homeData(""))
}

// UIOpenExisting redirects to the job page by id
func (a *API) UIOpenExisting(c *gin.Context) {
	id := strings.TrimSpace(c.Query("id"))
	if id == "" {
		c.Redirect(http.StatusFound, "/")
		return
	}
	c.Redirect(http.StatusFound, "/ui/jobs/"+id)
}

// UISubmit starts a job from the form and redirects to its page
func (a *API) UISubmit(c *gin.Context) {
	if a.jobs.IsBusy() {
		c.HTML(http.StatusServiceUnavailable, "layout", a.homeData("server busy: try again later"))
		return
	}
	title, raw, page, err := a.readUpload(c)
	if err != nil {
		c.HTML(uploadErrorStatus(err), "layout", a.homeData(err.Error()))
		return
	}
	submitted, err := a.jobs.Submit(title, raw, page)
	if err != nil {
		c.HTML(submitErrorStatus(err), "layout", a.homeData(err.Error()))
		return
	}
	log.Info().Str("job_id", submitted.ID).Str("title", title).Msg("job submitted from ui")
	c.Redirect(http.StatusFound, "/ui/jobs/"+submitted.ID)
}

// UIJob renders a job page; it refreshes itself until the run finishes
func (a *API) UIJob(c *gin.Context) {
	j, ok := a.jobs.GetJob(c.Param("id"))
	if !ok {
		c.HTML(http.StatusNotFound, "layout", a.homeData("job not found"))
		return
	}
	events := j.Events
	if len(events) > uiRecentEvents {
		events = events[len(events)-uiRecentEvents:]
	}
	running := j.FinishedAt.IsZero()
	c.HTML(http.StatusOK, "layout", gin.H{"Job": j, "Events": events, "Refresh": running})
}

func (a *API) homeData(msg string) gin.H {
	return gin.H{"Error": msg, "Page": a.page, "DPIs": uiDPIs}
}
