package handler

import (
	"net/http"
	"strconv"

	"github.com/TheOnlyBaddy/Blocklance/internal/auth"
	"github.com/TheOnlyBaddy/Blocklance/internal/logic"
	"github.com/TheOnlyBaddy/Blocklance/internal/model"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type ProjectHandler struct {
	projectLogic *logic.ProjectLogic
}

func NewProjectHandler(db *gorm.DB) *ProjectHandler {
	return &ProjectHandler{
		projectLogic: logic.NewProjectLogic(db),
	}
}

// CreateProject 创建项目
func (h *ProjectHandler) CreateProject(c *gin.Context) {
	callerId, ok := auth.CallerId(c)
	if !ok {
		ErrorResponse(c, http.StatusUnauthorized, "未登录")
		return
	}

	var req CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "无效的请求参数")
		return
	}

	project := &model.ProjectModel{
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		Budget:      req.Budget,
		Deadline:    req.Deadline,
		ClientId:    callerId,
	}

	if err := h.projectLogic.CreateProject(project); err != nil {
		DomainErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusCreated, "项目创建成功", ToProjectResponse(project))
}

// GetProjects 获取项目列表
func (h *ProjectHandler) GetProjects(c *gin.Context) {
	clientId, _ := strconv.ParseInt(c.Query("clientId"), 10, 64)
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("pageSize", "10"))

	projects, total, err := h.projectLogic.GetProjects(clientId, page, pageSize)
	if err != nil {
		DomainErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "获取项目列表成功", GetProjectsResponse{
		Projects:   ToProjectResponseList(projects),
		Pagination: NewPagination(page, pageSize, total),
	})
}

// GetProject 获取单个项目详情
func (h *ProjectHandler) GetProject(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "无效的项目ID")
		return
	}

	project, err := h.projectLogic.GetProject(id)
	if err != nil {
		DomainErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "获取项目详情成功", ToProjectResponse(project))
}

// AssignFreelancer 接受投标，把项目分配给自由职业者
func (h *ProjectHandler) AssignFreelancer(c *gin.Context) {
	callerId, ok := auth.CallerId(c)
	if !ok {
		ErrorResponse(c, http.StatusUnauthorized, "未登录")
		return
	}

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "无效的项目ID")
		return
	}

	var req AssignFreelancerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "无效的请求参数")
		return
	}

	project, err := h.projectLogic.AssignFreelancer(id, req.FreelancerId, callerId)
	if err != nil {
		DomainErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "项目分配成功", ToProjectResponse(project))
}
