package builder

import (
	"bytes"
	"fmt"
	"text/template"
)

// Recipe is the rendered build plan for a workspace. The image builder
// consumes Dockerfile; the sandbox provider consumes the commands.
type Recipe struct {
	Type         string
	Dockerfile   string
	BuildCommand string
	StartCommand string
	Port         int
}

var recipeTemplates = map[string]*template.Template{
	TypeNextJS: mustRecipe("nextjs", `FROM node:20-alpine
WORKDIR /app
COPY package*.json ./
RUN npm ci
COPY . .
RUN npm run build
EXPOSE {{.Port}}
CMD ["npm", "run", "start"]
`),
	TypeNode: mustRecipe("node", `FROM node:20-alpine
WORKDIR /app
COPY package*.json ./
RUN npm ci --omit=dev
COPY . .
EXPOSE {{.Port}}
CMD ["npm", "start"]
`),
	TypePython: mustRecipe("python", `FROM python:3.12-slim
WORKDIR /app
COPY requirements.txt* pyproject.toml* ./
RUN pip install --no-cache-dir -r requirements.txt || pip install --no-cache-dir .
COPY . .
EXPOSE {{.Port}}
CMD ["python", "main.py"]
`),
	TypeVite: mustRecipe("static", `FROM node:20-alpine AS build
WORKDIR /app
COPY package*.json ./
RUN npm ci
COPY . .
RUN npm run build
FROM nginx:alpine
COPY --from=build /app/{{.OutputDir}} /usr/share/nginx/html
EXPOSE 80
`),
	TypeVanilla: mustRecipe("vanilla", `FROM nginx:alpine
COPY . /usr/share/nginx/html
EXPOSE 80
`),
}

func mustRecipe(name, text string) *template.Template {
	return template.Must(template.New(name).Parse(text))
}

// RenderRecipe produces the build plan for a detection. CRA shares the
// vite static template.
func RenderRecipe(det *Detection) (*Recipe, error) {
	tmpl, ok := recipeTemplates[det.Type]
	if !ok {
		if det.Type == TypeCRA {
			tmpl = recipeTemplates[TypeVite]
		} else {
			return nil, fmt.Errorf("no recipe template for project type %q", det.Type)
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, det); err != nil {
		return nil, fmt.Errorf("recipe render failed: %w", err)
	}
	return &Recipe{
		Type:         det.Type,
		Dockerfile:   buf.String(),
		BuildCommand: det.BuildCommand,
		StartCommand: det.StartCommand,
		Port:         det.Port,
	}, nil
}
